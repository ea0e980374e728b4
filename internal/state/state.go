package state

import (
	"sync"
	"time"
)

// EpochStatus tracks a countdown epoch through its lifecycle. A replaced
// epoch never transitions here; its ticker simply loses the publish gate and
// exits.
type EpochStatus string

const (
	EpochIdle     EpochStatus = "idle"
	EpochArmed    EpochStatus = "armed"
	EpochTicking  EpochStatus = "ticking"
	EpochExpired  EpochStatus = "expired"
	EpochCanceled EpochStatus = "canceled"
)

// Epoch is one countdown generation. The anchor pair is the remote sample the
// projection runs from; Remaining is the latest published projection.
type Epoch struct {
	Seq             uint64
	Mode            string
	Status          EpochStatus
	AnchorRemaining time.Duration
	AnchorAt        time.Time
	Remaining       time.Duration
}

// Shared is the single store every goroutine reads and writes through.
// Session-derived fields are written only by the ingestion loop; countdown
// fields are guarded separately so tickers never contend with event handling.
type Shared struct {
	mu                 sync.RWMutex
	phase              string
	hoveredChampionID  int
	lockedChampionID   int
	localCellID        int
	announcedSkinID    int
	playersVisible     int
	locksByCell        map[int]int
	allLockedAnnounced bool
	processedActions   map[int64]struct{}

	epochMu sync.Mutex
	seq     uint64
	active  bool
	epoch   Epoch
}

// Snapshot is a consistent view of the session-derived fields. Consumers that
// need more than one field must read through here so lock and player counts
// come from the same write generation.
type Snapshot struct {
	Phase             string
	HoveredChampionID int
	LockedChampionID  int
	LocalCellID       int
	PlayersVisible    int
	LockedCount       int
	Locks             map[int]int
	AllLocked         bool
	ProcessedActions  int
}

func New() *Shared {
	return &Shared{
		localCellID:      -1,
		locksByCell:      make(map[int]int),
		processedActions: make(map[int64]struct{}),
		epoch:            Epoch{Status: EpochIdle},
	}
}

func (s *Shared) Phase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Shared) SetPhase(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Shared) HoveredChampionID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hoveredChampionID
}

func (s *Shared) SetHoveredChampionID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hoveredChampionID = id
}

func (s *Shared) LockedChampionID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockedChampionID
}

func (s *Shared) SetLockedChampionID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockedChampionID = id
}

func (s *Shared) LocalCellID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localCellID
}

func (s *Shared) SetLocalCellID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localCellID = id
}

func (s *Shared) AnnouncedSkinID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.announcedSkinID
}

func (s *Shared) SetAnnouncedSkinID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announcedSkinID = id
}

func (s *Shared) PlayersVisible() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playersVisible
}

func (s *Shared) SetPlayersVisible(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playersVisible = n
}

// Locks returns a copy of the current lock map.
func (s *Shared) Locks() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyLocks(s.locksByCell)
}

// ReplaceLocks swaps in the freshly derived lock map wholesale. Locks are
// rebuilt from every session update, never patched incrementally.
func (s *Shared) ReplaceLocks(locks map[int]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locksByCell = copyLocks(locks)
}

func (s *Shared) AllLockedAnnounced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLockedAnnounced
}

func (s *Shared) SetAllLockedAnnounced(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allLockedAnnounced = v
}

// MarkActionProcessed records a completed action id and reports whether it
// was newly seen in this champ select.
func (s *Shared) MarkActionProcessed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processedActions[id]; ok {
		return false
	}
	s.processedActions[id] = struct{}{}
	return true
}

// ResetOnEnter clears the per-session announcement caches when champ select
// begins, so a rejoin or a new draft replays cleanly.
func (s *Shared) ResetOnEnter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hoveredChampionID = 0
	s.announcedSkinID = 0
	s.allLockedAnnounced = false
	s.processedActions = make(map[int64]struct{})
}

// ResetOnExit clears the fields that only mean something inside champ select.
// The last locked champion survives so post-select consumers can still read
// it.
func (s *Shared) ResetOnExit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hoveredChampionID = 0
	s.playersVisible = 0
	s.locksByCell = make(map[int]int)
	s.allLockedAnnounced = false
}

func (s *Shared) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Phase:             s.phase,
		HoveredChampionID: s.hoveredChampionID,
		LockedChampionID:  s.lockedChampionID,
		LocalCellID:       s.localCellID,
		PlayersVisible:    s.playersVisible,
		LockedCount:       len(s.locksByCell),
		Locks:             copyLocks(s.locksByCell),
		AllLocked:         s.allLockedAnnounced,
		ProcessedActions:  len(s.processedActions),
	}
}

// ArmEpoch starts a new countdown epoch unless one is already active. The
// check-and-set runs under the epoch lock so concurrent arming attempts
// cannot both win.
func (s *Shared) ArmEpoch(remaining time.Duration, at time.Time, mode string) (Epoch, bool) {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if s.active {
		return Epoch{}, false
	}
	s.seq++
	s.epoch = Epoch{
		Seq:             s.seq,
		Mode:            mode,
		Status:          EpochArmed,
		AnchorRemaining: remaining,
		AnchorAt:        at,
		Remaining:       remaining,
	}
	s.active = true
	return s.epoch, true
}

// SetRemaining publishes tick progress for the given epoch. The first publish
// moves the epoch from armed to ticking. It reports false once the caller's
// epoch is no longer current, which is the ticker's signal to stop.
func (s *Shared) SetRemaining(seq uint64, remaining time.Duration) bool {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if !s.active || s.epoch.Seq != seq {
		return false
	}
	s.epoch.Status = EpochTicking
	s.epoch.Remaining = remaining
	return true
}

// RebaseEpoch snaps the anchor to a fresh authoritative sample. Stale epochs
// cannot rebase.
func (s *Shared) RebaseEpoch(seq uint64, remaining time.Duration, at time.Time) bool {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if !s.active || s.epoch.Seq != seq {
		return false
	}
	s.epoch.AnchorRemaining = remaining
	s.epoch.AnchorAt = at
	return true
}

// FinishEpoch marks the epoch expired and releases the active slot. Stale
// epochs cannot finish a successor.
func (s *Shared) FinishEpoch(seq uint64) bool {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if !s.active || s.epoch.Seq != seq {
		return false
	}
	s.epoch.Status = EpochExpired
	s.epoch.Remaining = 0
	s.active = false
	return true
}

// CancelEpoch tears down whatever epoch is active, if any, and reports
// whether there was one. Used on phase exit.
func (s *Shared) CancelEpoch() bool {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if !s.active {
		return false
	}
	s.epoch.Status = EpochCanceled
	s.active = false
	return true
}

// CountdownActive reports whether an epoch currently owns the countdown.
func (s *Shared) CountdownActive() bool {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.active
}

// CurrentSeq returns the sequence number of the most recently armed epoch.
func (s *Shared) CurrentSeq() uint64 {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.seq
}

// CountdownSnapshot returns the last known epoch record and whether it is
// still active. The record outlives the epoch so consumers can render the
// terminal state.
func (s *Shared) CountdownSnapshot() (Epoch, bool) {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.epoch, s.active
}

func copyLocks(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

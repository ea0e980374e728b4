package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lcu-watch/internal/champselect"
	"github.com/DoyleJ11/lcu-watch/internal/ticker"
)

// Event URIs this watcher routes. Everything else on the firehose is
// dropped undecoded.
const (
	uriGameflowPhase = "/lol-gameflow/v1/gameflow-phase"
	uriHoveredChamp  = "/lol-champ-select/v1/hovered-champion-id"
	uriChampSelect   = "/lol-champ-select/v1/session"
)

// apiEvent is the payload the client nests inside its wamp-style envelope.
type apiEvent struct {
	URI       string          `json:"uri"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// decodeFrame unpacks either envelope shape the client emits: an array
// [opcode, topic, payload] where opcode 8 carries an API event at the third
// position, or a bare payload object with its own uri. Anything else is
// silently dropped.
func decodeFrame(data []byte) (apiEvent, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) < 3 {
			return apiEvent{}, false
		}
		var op int
		if err := json.Unmarshal(arr[0], &op); err != nil || op != opEvent {
			return apiEvent{}, false
		}
		var ev apiEvent
		if err := json.Unmarshal(arr[2], &ev); err != nil || ev.URI == "" {
			return apiEvent{}, false
		}
		return ev, true
	}
	var ev apiEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.URI == "" {
		return apiEvent{}, false
	}
	return ev, true
}

func (w *Watcher) dispatch(ctx context.Context, frame []byte) {
	ev, ok := decodeFrame(frame)
	if !ok {
		return
	}
	switch ev.URI {
	case uriGameflowPhase:
		w.handlePhase(ev.Data)
	case uriHoveredChamp:
		w.handleHover(ev.Data)
	case uriChampSelect:
		w.handleSession(ctx, ev.Data)
	}
}

func (w *Watcher) handlePhase(data json.RawMessage) {
	var phase string
	if err := json.Unmarshal(data, &phase); err != nil {
		return
	}
	w.applyPhase(phase)
}

func (w *Watcher) applyPhase(phase string) {
	prev := w.state.Phase()
	if phase == "" || phase == prev {
		return
	}
	if champselect.IsKnownPhase(phase) {
		w.log.Info("phase change", zap.String("phase", phase), zap.String("from", prev))
	}
	w.state.SetPhase(phase)

	if phase == champselect.PhaseChampSelect {
		// A fresh draft: announcement caches and the processed-action set
		// must restart so a rejoin replays cleanly.
		w.state.ResetOnEnter()
		return
	}
	w.state.ResetOnExit()
	if w.state.CancelEpoch() {
		w.log.Info("countdown canceled", zap.String("phase", phase))
	}
}

func (w *Watcher) handleHover(data json.RawMessage) {
	var raw float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	id := int(raw)
	if id == 0 || id == w.state.HoveredChampionID() {
		return
	}
	w.log.Info("champion hovered",
		zap.String("champion", w.championLabel(id)),
		zap.Int("champion_id", id),
	)
	w.state.SetHoveredChampionID(id)
}

func (w *Watcher) handleSession(ctx context.Context, data json.RawMessage) {
	sess, err := champselect.DecodeSession(data)
	if sess == nil {
		return
	}
	if err != nil {
		w.log.Debug("session payload partially decoded", zap.Error(err))
	}
	w.applySession(ctx, sess)
}

// applySession runs every derivation against one session snapshot. The
// derivations are independent: a section flagged bad skips only the
// derivations that need it.
func (w *Watcher) applySession(ctx context.Context, sess *champselect.Session) {
	if sess.LocalPlayerCellID != nil {
		w.state.SetLocalCellID(*sess.LocalPlayerCellID)
	}
	w.deriveVisible(sess)
	w.deriveLocks(sess)
	w.deriveSelection(sess)
	w.maybeArm(ctx, sess)
}

// deriveVisible tracks how many distinct player slots the session shows. A
// transient empty snapshot must never zero a known count, so zero is only
// stored by the phase-exit reset.
func (w *Watcher) deriveVisible(sess *champselect.Session) {
	count := len(champselect.VisibleCells(sess))
	if count == 0 || count == w.state.PlayersVisible() {
		return
	}
	w.log.Info("players visible", zap.Int("count", count))
	w.state.SetPlayersVisible(count)
}

func (w *Watcher) deriveLocks(sess *champselect.Session) {
	if sess.Bad.Actions {
		return
	}
	prev := w.state.Locks()
	curr := champselect.ComputeLocks(sess)
	added, removed := champselect.DiffLocks(prev, curr)

	visible := w.state.PlayersVisible()
	localCell := w.state.LocalCellID()
	for _, cell := range added {
		champ := curr[cell]
		label := w.championLabel(champ)
		w.log.Info("lock acquired",
			zap.String("champion", label),
			zap.Int("cell", cell),
			zap.Int("locked", len(curr)),
			zap.Int("visible", visible),
		)
		if localCell >= 0 && cell == localCell {
			w.log.Info("local lock", zap.String("champion", label), zap.Int("champion_id", champ))
			w.state.SetLockedChampionID(champ)
		}
	}
	for _, cell := range removed {
		w.log.Info("lock released",
			zap.String("champion", w.championLabel(prev[cell])),
			zap.Int("cell", cell),
			zap.Int("locked", len(curr)),
			zap.Int("visible", visible),
		)
	}
	w.state.ReplaceLocks(curr)
	for _, id := range champselect.CompletedActionIDs(sess) {
		w.state.MarkActionProcessed(id)
	}

	// The announce check runs before the rearm check so a count that dips
	// and comes back fires again.
	locked := len(curr)
	if visible > 0 && locked >= visible && !w.state.AllLockedAnnounced() {
		w.log.Info("all players locked", zap.Int("locked", locked), zap.Int("visible", visible))
		w.state.SetAllLockedAnnounced(true)
	}
	if locked < visible {
		w.state.SetAllLockedAnnounced(false)
	}
}

// deriveSelection announces the local player's skin choice, once per value.
func (w *Watcher) deriveSelection(sess *champselect.Session) {
	if sess.Bad.Rosters {
		return
	}
	skin := champselect.LocalSkinID(sess, w.state.LocalCellID())
	if skin <= 0 || skin == w.state.AnnouncedSkinID() {
		return
	}
	w.state.SetAnnouncedSkinID(skin)
	w.log.Info("skin selected", zap.String("skin", w.skinLabel(skin)), zap.Int("skin_id", skin))
}

// maybeArm evaluates the countdown triggers against this update. The
// finalization timer wins when present; otherwise, once every visible player
// has locked, a short grace window polls for the timer the client has not
// published yet.
func (w *Watcher) maybeArm(ctx context.Context, sess *champselect.Session) {
	if sess.Bad.Timer {
		return
	}
	left := sess.Timer.Remaining()
	if sess.Timer.PhaseUpper() == champselect.TimerPhaseFinalization && left > 0 {
		w.countdown.Arm(ctx, left, ticker.ModeFinalization)
		return
	}

	// Lock and player counts must come from the same snapshot, or a torn
	// pair could arm a countdown for a half-locked draft.
	snap := w.state.Snapshot()
	if snap.PlayersVisible == 0 || snap.LockedCount < snap.PlayersVisible {
		return
	}
	if left <= 0 {
		left = w.probe(ctx)
	}
	if left > 0 {
		w.countdown.Arm(ctx, left, ticker.ModeProbe)
	}
}

// probe re-reads the session endpoint a few times, giving the client a grace
// window to publish a positive timer after the last lock-in.
func (w *Watcher) probe(ctx context.Context) time.Duration {
	for i := 0; i < w.cfg.ProbeAttempts; i++ {
		sess, ok := w.lcu.Session(ctx)
		if ok && sess != nil && !sess.Bad.Timer {
			if left := sess.Timer.Remaining(); left > 0 {
				return left
			}
		}
		if !w.sleep(ctx, w.cfg.ProbeInterval) {
			return 0
		}
	}
	return 0
}

func (w *Watcher) championLabel(id int) string {
	if w.names != nil {
		if name, ok := w.names.ChampionName(id); ok {
			return name
		}
	}
	return fmt.Sprintf("champion-%d", id)
}

func (w *Watcher) skinLabel(id int) string {
	if w.names != nil {
		if name, ok := w.names.SkinName(id); ok {
			return name
		}
	}
	return fmt.Sprintf("skin-%d", id)
}

package champselect

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Gameflow phases reported by the client. Only ChampSelect drives this
// subsystem; the rest are tracked so a display layer can show where the
// client currently is.
const (
	PhaseNone        = "None"
	PhaseLobby       = "Lobby"
	PhaseMatchmaking = "Matchmaking"
	PhaseReadyCheck  = "ReadyCheck"
	PhaseChampSelect = "ChampSelect"
	PhaseGameStart   = "GameStart"
	PhaseInProgress  = "InProgress"
	PhaseEndOfGame   = "EndOfGame"
)

// TimerPhaseFinalization is the terminal champ-select sub-phase: everyone has
// locked and the loadout window is counting down.
const TimerPhaseFinalization = "FINALIZATION"

// ActionTypePick marks the action rows that represent champion picks, as
// opposed to bans and vote actions.
const ActionTypePick = "pick"

var knownPhases = map[string]bool{
	PhaseLobby:       true,
	PhaseMatchmaking: true,
	PhaseReadyCheck:  true,
	PhaseChampSelect: true,
	PhaseGameStart:   true,
	PhaseInProgress:  true,
	PhaseEndOfGame:   true,
}

// IsKnownPhase reports whether p is a phase worth announcing on transition.
// Unknown phases are still stored, just not logged.
func IsKnownPhase(p string) bool { return knownPhases[p] }

// Member is one roster entry of either team.
type Member struct {
	CellID         *int `json:"cellId"`
	ChampionID     int  `json:"championId"`
	SelectedSkinID int  `json:"selectedSkinId"`
}

// Action is one cell of the champ-select action grid.
type Action struct {
	ID          int64  `json:"id"`
	ActorCellID *int   `json:"actorCellId"`
	ChampionID  int    `json:"championId"`
	Type        string `json:"type"`
	Completed   bool   `json:"completed"`
}

// Timer carries the remaining-time sample for the current sub-phase. The
// client reports it sparsely and occasionally as a float, so the raw value
// stays lenient and is exposed as a duration.
type Timer struct {
	Phase                   string  `json:"phase"`
	AdjustedTimeLeftInPhase float64 `json:"adjustedTimeLeftInPhase"`
}

// Remaining converts the reported sample to a duration, clamping negatives.
func (t Timer) Remaining() time.Duration {
	if t.AdjustedTimeLeftInPhase <= 0 {
		return 0
	}
	return time.Duration(t.AdjustedTimeLeftInPhase) * time.Millisecond
}

// PhaseUpper normalizes the timer phase name for comparisons.
func (t Timer) PhaseUpper() string { return strings.ToUpper(t.Phase) }

// SectionSet records which payload sections failed to decode. A derivation
// that depends on a bad section skips this update instead of acting on zero
// values.
type SectionSet struct {
	Rosters bool
	Actions bool
	Timer   bool
}

// Session is one decoded champ-select payload from the session endpoint or
// the event channel. Absent sections decode to their zero values; malformed
// sections are flagged in Bad.
type Session struct {
	LocalPlayerCellID *int
	MyTeam            []Member
	TheirTeam         []Member
	Actions           [][]Action
	Timer             Timer

	Bad SectionSet
}

// MySelection is the local player's current loadout selection.
type MySelection struct {
	SelectedSkinID int   `json:"selectedSkinId"`
	Spell1ID       int64 `json:"spell1Id"`
	Spell2ID       int64 `json:"spell2Id"`
	WardSkinID     int64 `json:"wardSkinId"`
}

// DecodeSession decodes a session payload section by section so that one
// malformed field degrades only the derivations that need it. The returned
// error aggregates the sections that failed; the Session is usable either
// way. A payload that is not an object at all yields a nil Session.
func DecodeSession(data []byte) (*Session, error) {
	var shell struct {
		LocalPlayerCellID json.RawMessage `json:"localPlayerCellId"`
		MyTeam            json.RawMessage `json:"myTeam"`
		TheirTeam         json.RawMessage `json:"theirTeam"`
		Actions           json.RawMessage `json:"actions"`
		Timer             json.RawMessage `json:"timer"`
	}
	if err := json.Unmarshal(data, &shell); err != nil {
		return nil, err
	}

	var sess Session
	var errs error
	decode := func(name string, raw json.RawMessage, v any) bool {
		if len(raw) == 0 || string(raw) == "null" {
			return true
		}
		if err := json.Unmarshal(raw, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			return false
		}
		return true
	}

	decode("localPlayerCellId", shell.LocalPlayerCellID, &sess.LocalPlayerCellID)
	my := decode("myTeam", shell.MyTeam, &sess.MyTeam)
	their := decode("theirTeam", shell.TheirTeam, &sess.TheirTeam)
	sess.Bad.Rosters = !my || !their
	sess.Bad.Actions = !decode("actions", shell.Actions, &sess.Actions)
	sess.Bad.Timer = !decode("timer", shell.Timer, &sess.Timer)
	return &sess, errs
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lcu-watch/internal/state"
	"github.com/DoyleJ11/lcu-watch/pkg/types"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Status serves the current derived view: phase, lock progress, and the
// countdown record, with names attached where the database knows them.
func Status(st *state.Shared, names NameSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := st.Snapshot()
		out := types.StatusSnapshot{
			Phase:             snap.Phase,
			PlayersVisible:    snap.PlayersVisible,
			LockedCount:       snap.LockedCount,
			AllLocked:         snap.AllLocked,
			HoveredChampionID: snap.HoveredChampionID,
			LockedChampionID:  snap.LockedChampionID,
			Locks:             lockEntries(snap.Locks, names),
		}
		if names != nil {
			if name, ok := names.ChampionName(snap.HoveredChampionID); ok {
				out.HoveredChampion = name
			}
			if name, ok := names.ChampionName(snap.LockedChampionID); ok {
				out.LockedChampion = name
			}
		}
		if ep, active := st.CountdownSnapshot(); ep.Seq > 0 {
			out.Countdown = &types.Countdown{
				Epoch:       ep.Seq,
				Mode:        ep.Mode,
				Status:      string(ep.Status),
				RemainingMS: ep.Remaining.Milliseconds(),
				Active:      active,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ChampionNames serves every label the database holds for one champion.
func ChampionNames(names NameSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "championID"))
		if err != nil || id <= 0 {
			http.Error(w, "bad champion id", http.StatusBadRequest)
			return
		}
		if names == nil {
			http.Error(w, "name database unavailable", http.StatusNotFound)
			return
		}
		out := types.ChampionNames{ChampionID: id}
		if name, ok := names.ChampionName(id); ok {
			out.Name = name
		}
		for _, e := range names.EntriesForChampion(r.Context(), id) {
			out.Entries = append(out.Entries, types.NameEntry{
				Label:      e.Label,
				Kind:       string(e.Kind),
				ChampionID: e.ChampionID,
				SkinID:     e.SkinID,
			})
		}
		if out.Name == "" && len(out.Entries) == 0 {
			http.Error(w, "unknown champion", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func lockEntries(locks map[int]int, names NameSource) []types.LockEntry {
	cells := make([]int, 0, len(locks))
	for cell := range locks {
		cells = append(cells, cell)
	}
	sort.Ints(cells)
	out := make([]types.LockEntry, 0, len(cells))
	for _, cell := range cells {
		entry := types.LockEntry{Cell: cell, ChampionID: locks[cell]}
		if names != nil {
			if name, ok := names.ChampionName(entry.ChampionID); ok {
				entry.Champion = name
			}
		}
		out = append(out, entry)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

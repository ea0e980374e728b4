package champselect

import "sort"

// ComputeLocks rebuilds the slot-to-champion lock map from the action grid.
// A slot counts as locked once it has a completed pick action naming a real
// champion. Bans and in-progress actions never contribute.
func ComputeLocks(sess *Session) map[int]int {
	locks := make(map[int]int)
	for _, round := range sess.Actions {
		for _, act := range round {
			if act.Type != ActionTypePick || !act.Completed {
				continue
			}
			if act.ActorCellID == nil || act.ChampionID <= 0 {
				continue
			}
			locks[*act.ActorCellID] = act.ChampionID
		}
	}
	return locks
}

// VisibleCells returns the distinct slot ids present in the session: the
// union of both rosters, falling back to action actors when the rosters are
// empty. Spectator payloads omit the rosters but still carry the grid.
func VisibleCells(sess *Session) []int {
	seen := make(map[int]struct{})
	for _, team := range [][]Member{sess.MyTeam, sess.TheirTeam} {
		for _, m := range team {
			if m.CellID != nil {
				seen[*m.CellID] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		for _, round := range sess.Actions {
			for _, act := range round {
				if act.ActorCellID != nil {
					seen[*act.ActorCellID] = struct{}{}
				}
			}
		}
	}
	cells := make([]int, 0, len(seen))
	for c := range seen {
		cells = append(cells, c)
	}
	sort.Ints(cells)
	return cells
}

// DiffLocks compares two lock maps by key set and returns the slots that
// locked in and the slots whose lock vanished, both sorted ascending.
func DiffLocks(prev, curr map[int]int) (added, removed []int) {
	for cell := range curr {
		if _, ok := prev[cell]; !ok {
			added = append(added, cell)
		}
	}
	for cell := range prev {
		if _, ok := curr[cell]; !ok {
			removed = append(removed, cell)
		}
	}
	sort.Ints(added)
	sort.Ints(removed)
	return added, removed
}

// CompletedActionIDs lists the ids of every completed action in the grid,
// regardless of type, for per-session dedup bookkeeping.
func CompletedActionIDs(sess *Session) []int64 {
	var ids []int64
	for _, round := range sess.Actions {
		for _, act := range round {
			if act.Completed {
				ids = append(ids, act.ID)
			}
		}
	}
	return ids
}

// LocalSkinID returns the local player's selected skin from the roster, or
// zero when the slot or selection is absent.
func LocalSkinID(sess *Session, cell int) int {
	if cell < 0 {
		return 0
	}
	for _, m := range sess.MyTeam {
		if m.CellID != nil && *m.CellID == cell {
			return m.SelectedSkinID
		}
	}
	return 0
}

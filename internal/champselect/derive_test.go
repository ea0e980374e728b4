package champselect

import (
	"reflect"
	"testing"
	"time"
)

func cell(id int) *int { return &id }

func TestComputeLocks(t *testing.T) {
	tests := []struct {
		name string
		sess Session
		want map[int]int
	}{
		{
			name: "empty grid",
			sess: Session{},
			want: map[int]int{},
		},
		{
			name: "completed picks only",
			sess: Session{Actions: [][]Action{
				{
					{ID: 1, ActorCellID: cell(0), ChampionID: 266, Type: "pick", Completed: true},
					{ID: 2, ActorCellID: cell(1), ChampionID: 103, Type: "pick", Completed: false},
				},
				{
					{ID: 3, ActorCellID: cell(2), ChampionID: 64, Type: "ban", Completed: true},
					{ID: 4, ActorCellID: cell(3), ChampionID: 412, Type: "pick", Completed: true},
				},
			}},
			want: map[int]int{0: 266, 3: 412},
		},
		{
			name: "missing actor or champion ignored",
			sess: Session{Actions: [][]Action{
				{
					{ID: 1, ActorCellID: nil, ChampionID: 266, Type: "pick", Completed: true},
					{ID: 2, ActorCellID: cell(1), ChampionID: 0, Type: "pick", Completed: true},
					{ID: 3, ActorCellID: cell(2), ChampionID: 555, Type: "pick", Completed: true},
				},
			}},
			want: map[int]int{2: 555},
		},
		{
			name: "later round overrides earlier pick for same cell",
			sess: Session{Actions: [][]Action{
				{{ID: 1, ActorCellID: cell(0), ChampionID: 10, Type: "pick", Completed: true}},
				{{ID: 2, ActorCellID: cell(0), ChampionID: 20, Type: "pick", Completed: true}},
			}},
			want: map[int]int{0: 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeLocks(&tt.sess)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ComputeLocks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisibleCells(t *testing.T) {
	tests := []struct {
		name string
		sess Session
		want []int
	}{
		{
			name: "both rosters",
			sess: Session{
				MyTeam:    []Member{{CellID: cell(0)}, {CellID: cell(1)}},
				TheirTeam: []Member{{CellID: cell(5)}, {CellID: cell(6)}},
			},
			want: []int{0, 1, 5, 6},
		},
		{
			name: "duplicates collapse",
			sess: Session{
				MyTeam:    []Member{{CellID: cell(0)}, {CellID: cell(0)}},
				TheirTeam: []Member{{CellID: cell(0)}},
			},
			want: []int{0},
		},
		{
			name: "fallback to action actors when rosters empty",
			sess: Session{Actions: [][]Action{
				{{ID: 1, ActorCellID: cell(3)}, {ID: 2, ActorCellID: cell(1)}},
				{{ID: 3, ActorCellID: cell(3)}},
			}},
			want: []int{1, 3},
		},
		{
			name: "rosters win over actions",
			sess: Session{
				MyTeam:  []Member{{CellID: cell(9)}},
				Actions: [][]Action{{{ID: 1, ActorCellID: cell(1)}}},
			},
			want: []int{9},
		},
		{
			name: "nothing visible",
			sess: Session{},
			want: []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VisibleCells(&tt.sess)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("VisibleCells() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiffLocks(t *testing.T) {
	tests := []struct {
		name        string
		prev, curr  map[int]int
		wantAdded   []int
		wantRemoved []int
	}{
		{
			name:      "all new",
			prev:      map[int]int{},
			curr:      map[int]int{0: 266, 3: 412},
			wantAdded: []int{0, 3},
		},
		{
			name:        "one in one out",
			prev:        map[int]int{0: 266, 3: 412},
			curr:        map[int]int{0: 266, 4: 64},
			wantAdded:   []int{4},
			wantRemoved: []int{3},
		},
		{
			name: "champion change on same cell is not a lock change",
			prev: map[int]int{0: 266},
			curr: map[int]int{0: 103},
		},
		{
			name:        "everything released",
			prev:        map[int]int{0: 266, 1: 103},
			curr:        map[int]int{},
			wantRemoved: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := DiffLocks(tt.prev, tt.curr)
			if !reflect.DeepEqual(added, tt.wantAdded) {
				t.Fatalf("added = %v, want %v", added, tt.wantAdded)
			}
			if !reflect.DeepEqual(removed, tt.wantRemoved) {
				t.Fatalf("removed = %v, want %v", removed, tt.wantRemoved)
			}
		})
	}
}

func TestDiffLocksSymmetricDifference(t *testing.T) {
	prev := map[int]int{0: 1, 1: 2, 2: 3}
	curr := map[int]int{1: 2, 2: 9, 3: 4, 4: 5}

	added, removed := DiffLocks(prev, curr)

	for _, c := range added {
		if _, ok := prev[c]; ok {
			t.Fatalf("added cell %d was already present", c)
		}
		if _, ok := curr[c]; !ok {
			t.Fatalf("added cell %d is not in curr", c)
		}
	}
	for _, c := range removed {
		if _, ok := curr[c]; ok {
			t.Fatalf("removed cell %d is still present", c)
		}
		if _, ok := prev[c]; !ok {
			t.Fatalf("removed cell %d was never in prev", c)
		}
	}
	if len(added) != 2 || len(removed) != 1 {
		t.Fatalf("added=%v removed=%v, want 2 added and 1 removed", added, removed)
	}
}

func TestCompletedActionIDs(t *testing.T) {
	sess := Session{Actions: [][]Action{
		{
			{ID: 1, Type: "ban", Completed: true},
			{ID: 2, Type: "pick", Completed: false},
		},
		{
			{ID: 3, Type: "pick", Completed: true},
		},
	}}

	got := CompletedActionIDs(&sess)
	want := []int64{1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CompletedActionIDs() = %v, want %v", got, want)
	}
}

func TestLocalSkinID(t *testing.T) {
	sess := Session{MyTeam: []Member{
		{CellID: cell(0), SelectedSkinID: 266001},
		{CellID: cell(1), SelectedSkinID: 103005},
	}}

	if got := LocalSkinID(&sess, 1); got != 103005 {
		t.Fatalf("LocalSkinID(1) = %d, want 103005", got)
	}
	if got := LocalSkinID(&sess, 4); got != 0 {
		t.Fatalf("LocalSkinID(4) = %d, want 0", got)
	}
	if got := LocalSkinID(&sess, -1); got != 0 {
		t.Fatalf("LocalSkinID(-1) = %d, want 0", got)
	}
}

func TestTimerRemaining(t *testing.T) {
	tests := []struct {
		name  string
		timer Timer
		want  time.Duration
	}{
		{"positive", Timer{AdjustedTimeLeftInPhase: 28500}, 28500 * time.Millisecond},
		{"fractional milliseconds truncate", Timer{AdjustedTimeLeftInPhase: 1500.7}, 1500 * time.Millisecond},
		{"zero", Timer{}, 0},
		{"negative clamps", Timer{AdjustedTimeLeftInPhase: -300}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.timer.Remaining(); got != tt.want {
				t.Fatalf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

package types

// StatusSnapshot:
//   phase: string // last gameflow phase seen
//   players_visible: number
//   locked_count: number
//   all_locked: boolean
//   hovered_champion_id / hovered_champion: number, string // optional
//   locked_champion_id / locked_champion: number, string   // optional
//   locks: [{cell, champion_id, champion}]
//   countdown: { epoch, mode, status, remaining_ms, active } // optional

type StatusSnapshot struct {
	Phase             string      `json:"phase"`
	PlayersVisible    int         `json:"players_visible"`
	LockedCount       int         `json:"locked_count"`
	AllLocked         bool        `json:"all_locked"`
	HoveredChampionID int         `json:"hovered_champion_id,omitempty"`
	HoveredChampion   string      `json:"hovered_champion,omitempty"`
	LockedChampionID  int         `json:"locked_champion_id,omitempty"`
	LockedChampion    string      `json:"locked_champion,omitempty"`
	Locks             []LockEntry `json:"locks"`
	Countdown         *Countdown  `json:"countdown,omitempty"`
}

type LockEntry struct {
	Cell       int    `json:"cell"`
	ChampionID int    `json:"champion_id"`
	Champion   string `json:"champion,omitempty"`
}

// Countdown reports the current epoch while one runs, or the last one's
// terminal record when none does.
type Countdown struct {
	Epoch       uint64 `json:"epoch"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`
	RemainingMS int64  `json:"remaining_ms"`
	Active      bool   `json:"active"`
}

// ChampionNames:
//   champion_id: number
//   name: string // canonical-language display name, omitted when unknown
//   entries: [{label, kind: "champion"|"skin", champion_id, skin_id}]

type ChampionNames struct {
	ChampionID int         `json:"champion_id"`
	Name       string      `json:"name,omitempty"`
	Entries    []NameEntry `json:"entries"`
}

type NameEntry struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	ChampionID int    `json:"champion_id"`
	SkinID     int    `json:"skin_id,omitempty"`
}

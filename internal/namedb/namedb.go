package namedb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public Data Dragon CDN.
const DefaultBaseURL = "https://ddragon.leagueoflegends.com"

const defaultTimeout = 10 * time.Second

// EntryKind distinguishes what an Entry names.
type EntryKind string

const (
	KindChampion EntryKind = "champion"
	KindSkin     EntryKind = "skin"
)

// Entry is one nameable thing under a champion: the champion itself or one
// of its skins. Multi-language loads produce one entry per language label.
type Entry struct {
	Label      string
	Kind       EntryKind
	ChampionID int
	SkinID     int // zero for champion entries
}

// NormalizedEntry pairs an entry with a fold of its label for
// accent-insensitive matching.
type NormalizedEntry struct {
	Entry
	Normalized string
}

type Config struct {
	// Languages is a locale like "en_US", a comma list, or "all". Empty
	// means en_US.
	Languages string
	// CacheDir overrides the user cache directory.
	CacheDir string
	// BaseURL overrides the CDN, for tests.
	BaseURL string
	// Timeout bounds each CDN fetch.
	Timeout time.Duration
}

// DB maps champion and skin ids to display names using Data Dragon. All
// content is immutable per game version, so fetches are cached on disk
// forever and skin catalogs load lazily per champion.
type DB struct {
	log      *zap.Logger
	http     *http.Client
	base     string
	dir      string
	langSpec string
	timeout  time.Duration

	mu            sync.Mutex
	version       string
	langs         []string
	canonical     string
	slugByID      map[int]string
	nameByLang    map[string]map[int]string
	skinNameByID  map[int]string
	entriesBySlug map[string][]Entry
	entryLabels   map[string]map[string]struct{}
	skinsLoaded   map[string]struct{}
	normCache     map[string]string
	loaded        bool
}

func New(cfg Config, log *zap.Logger) *DB {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dir := cfg.CacheDir
	if dir == "" {
		if userDir, err := os.UserCacheDir(); err == nil {
			dir = filepath.Join(userDir, "lcu-watch", "ddragon")
		}
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Debug("cache dir unavailable", zap.String("dir", dir), zap.Error(err))
			dir = ""
		}
	}
	return &DB{
		log:           log,
		http:          &http.Client{},
		base:          base,
		dir:           dir,
		langSpec:      cfg.Languages,
		timeout:       timeout,
		slugByID:      make(map[int]string),
		nameByLang:    make(map[string]map[int]string),
		skinNameByID:  make(map[int]string),
		entriesBySlug: make(map[string][]Entry),
		entryLabels:   make(map[string]map[string]struct{}),
		skinsLoaded:   make(map[string]struct{}),
		normCache:     make(map[string]string),
	}
}

// Load fetches the version manifest and the champion index for each
// configured language. A failed load leaves an empty database and every
// lookup degrades to absence.
func (db *DB) Load(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var versions []string
	if err := db.cachedJSON(ctx, "versions.json", db.base+"/api/versions.json", &versions); err != nil {
		return fmt.Errorf("load versions: %w", err)
	}
	if len(versions) == 0 {
		return errors.New("empty version manifest")
	}
	db.version = versions[0]
	db.langs = db.resolveLanguages(ctx)
	db.canonical = canonicalLanguage(db.langs)

	for _, lang := range db.langs {
		var index championIndex
		name := fmt.Sprintf("champion_%s_%s.json", db.version, lang)
		url := fmt.Sprintf("%s/cdn/%s/data/%s/champion.json", db.base, db.version, lang)
		if err := db.cachedJSON(ctx, name, url, &index); err != nil {
			db.log.Debug("champion index unavailable", zap.String("lang", lang), zap.Error(err))
			continue
		}
		perLang := make(map[int]string, len(index.Data))
		for slug, row := range index.Data {
			id, err := strconv.Atoi(row.Key)
			if err != nil {
				continue
			}
			display := row.Name
			if display == "" {
				display = slug
			}
			db.slugByID[id] = slug
			perLang[id] = display
			db.addEntry(slug, Entry{Label: display, Kind: KindChampion, ChampionID: id})
		}
		db.nameByLang[lang] = perLang
	}

	db.loaded = len(db.nameByLang[db.canonical]) > 0
	if !db.loaded {
		return errors.New("no champion names loaded")
	}
	db.log.Info("name database ready",
		zap.String("version", db.version),
		zap.Strings("languages", db.langs),
		zap.Int("champions", len(db.slugByID)),
	)
	return nil
}

// ChampionName resolves a champion id in the canonical language.
func (db *DB) ChampionName(id int) (string, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	name, ok := db.nameByLang[db.canonical][id]
	return name, ok
}

// SkinName resolves a skin id. Only known once the owning champion's catalog
// has been loaded.
func (db *DB) SkinName(id int) (string, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	name, ok := db.skinNameByID[id]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// EntriesForChampion returns every label under a champion, loading its skin
// catalog on first use.
func (db *DB) EntriesForChampion(ctx context.Context, id int) []Entry {
	db.mu.Lock()
	defer db.mu.Unlock()
	slug, ok := db.slugByID[id]
	if !ok {
		return nil
	}
	db.ensureSkins(ctx, slug, id)
	entries := db.entriesBySlug[slug]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// NormalizedEntries is EntriesForChampion plus a cached fold of each label.
func (db *DB) NormalizedEntries(ctx context.Context, id int) []NormalizedEntry {
	entries := db.EntriesForChampion(ctx, id)
	if entries == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]NormalizedEntry, 0, len(entries))
	for _, e := range entries {
		norm, ok := db.normCache[e.Label]
		if !ok {
			norm = Fold(e.Label)
			db.normCache[e.Label] = norm
		}
		out = append(out, NormalizedEntry{Entry: e, Normalized: norm})
	}
	return out
}

// ensureSkins pulls the per-champion catalog once. One attempt per process:
// a champion whose catalog will not load simply keeps its bare entry.
func (db *DB) ensureSkins(ctx context.Context, slug string, champID int) {
	if _, done := db.skinsLoaded[slug]; done {
		return
	}
	db.skinsLoaded[slug] = struct{}{}

	for _, lang := range db.langs {
		var detail championDetail
		name := fmt.Sprintf("champ_%s_%s_%s.json", slug, db.version, lang)
		url := fmt.Sprintf("%s/cdn/%s/data/%s/champion/%s.json", db.base, db.version, lang, slug)
		if err := db.cachedJSON(ctx, name, url, &detail); err != nil {
			db.log.Debug("skin catalog unavailable",
				zap.String("champion", slug),
				zap.String("lang", lang),
				zap.Error(err),
			)
			continue
		}
		champName := db.nameByLang[lang][champID]
		if champName == "" {
			champName = slug
		}
		for _, skin := range detail.Data[slug].Skins {
			id, _ := strconv.Atoi(skin.ID.String())
			skinName := strings.TrimSpace(skin.Name)
			if id != 0 && skinName != "" {
				if _, exists := db.skinNameByID[id]; !exists || lang == db.canonical {
					db.skinNameByID[id] = skinName
				}
			}
			// The base skin (num 0) is not a purchasable look; only real
			// skins become entries.
			if skin.Num == 0 || skinName == "" {
				continue
			}
			db.addEntry(slug, Entry{Label: champName + " " + skinName, Kind: KindSkin, ChampionID: champID, SkinID: id})
			db.addEntry(slug, Entry{Label: skinName, Kind: KindSkin, ChampionID: champID, SkinID: id})
		}
	}
}

func (db *DB) addEntry(slug string, e Entry) {
	labels, ok := db.entryLabels[slug]
	if !ok {
		labels = make(map[string]struct{})
		db.entryLabels[slug] = labels
	}
	if _, dup := labels[e.Label]; dup {
		return
	}
	labels[e.Label] = struct{}{}
	db.entriesBySlug[slug] = append(db.entriesBySlug[slug], e)
}

func (db *DB) resolveLanguages(ctx context.Context) []string {
	spec := strings.TrimSpace(db.langSpec)
	switch strings.ToLower(spec) {
	case "", "default", "auto":
		return []string{"en_US"}
	case "all":
		var langs []string
		if err := db.cachedJSON(ctx, "languages.json", db.base+"/cdn/languages.json", &langs); err != nil || len(langs) == 0 {
			db.log.Debug("language manifest unavailable", zap.Error(err))
			return []string{"en_US"}
		}
		return langs
	}
	if strings.Contains(spec, ",") {
		var langs []string
		for _, part := range strings.Split(spec, ",") {
			if p := strings.TrimSpace(part); p != "" {
				langs = append(langs, p)
			}
		}
		if len(langs) > 0 {
			return langs
		}
		return []string{"en_US"}
	}
	return []string{spec}
}

func canonicalLanguage(langs []string) string {
	for _, l := range langs {
		if l == "en_US" {
			return "en_US"
		}
	}
	if len(langs) > 0 {
		return langs[0]
	}
	return "en_US"
}

// cachedJSON fills v from the on-disk cache when possible, fetching and
// caching on a miss. Data Dragon content is immutable per version, so cache
// entries never expire.
func (db *DB) cachedJSON(ctx context.Context, name, url string, v any) error {
	var path string
	if db.dir != "" {
		path = filepath.Join(db.dir, name)
		if data, err := os.ReadFile(path); err == nil {
			if json.Unmarshal(data, v) == nil {
				return nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := db.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", name, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			db.log.Debug("cache write failed", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

type championIndex struct {
	Data map[string]struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"data"`
}

type championDetail struct {
	Data map[string]struct {
		Skins []skinRow `json:"skins"`
	} `json:"data"`
}

// skinRow tolerates the CDN serving skin ids as strings or numbers.
type skinRow struct {
	ID   json.Number `json:"id"`
	Num  int         `json:"num"`
	Name string      `json:"name"`
}

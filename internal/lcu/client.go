package lcu

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lcu-watch/internal/champselect"
)

// DefaultTimeout bounds individual reads against the client API.
const DefaultTimeout = 2 * time.Second

const (
	pathGameflowPhase  = "/lol-gameflow/v1/gameflow-phase"
	pathHoveredChamp   = "/lol-champ-select/v1/hovered-champion-id"
	pathSession        = "/lol-champ-select/v1/session"
	pathMySelection    = "/lol-champ-select/v1/session/my-selection"
	pathMySelectionOld = "/lol-champ-select/v1/selection"
	pathOwnedChamps    = "/lol-champions/v1/owned-champions-minimal"
	pathOwnedSkins     = "/lol-skins/v1/owned-skins"
)

// conn is one immutable credential generation. Rotation swaps the whole
// bundle so a request in flight never observes half-new credentials.
type conn struct {
	ok       bool
	lockPath string
	mtime    time.Time
	port     int
	secret   string
	baseURL  string
	http     *http.Client
}

// Client talks to the League client's local HTTPS API. It discovers
// credentials from the lockfile, watches for rotation, and degrades every
// read to an absent result instead of erroring when the client is away.
type Client struct {
	explicit string
	log      *zap.Logger

	refreshMu sync.Mutex
	conn      atomic.Pointer[conn]
}

func NewClient(explicitPath string, log *zap.Logger) *Client {
	c := &Client{explicit: explicitPath, log: log}
	c.conn.Store(&conn{})
	c.RefreshIfNeeded(false)
	return c
}

// Ready reports whether credentials are currently loaded.
func (c *Client) Ready() bool { return c.conn.Load().ok }

// Credentials returns the active port and secret for callers that dial the
// event channel themselves.
func (c *Client) Credentials() (port int, secret string, ok bool) {
	cc := c.conn.Load()
	return cc.port, cc.secret, cc.ok
}

// RefreshIfNeeded re-resolves the lockfile and rebuilds credentials when the
// location or its modification time moved, when forced, or when the client
// is currently disabled. The client never announces rotation, so this
// filesystem check is the only signal.
func (c *Client) RefreshIfNeeded(force bool) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cur := c.conn.Load()
	path, found := FindLockfile(c.explicit)
	if !found {
		if cur.ok {
			c.install(&conn{})
		}
		return
	}
	var mtime time.Time
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime()
	}
	if !force && cur.ok && path == cur.lockPath && mtime.Equal(cur.mtime) {
		return
	}
	c.install(c.buildConn(path, mtime))
}

// buildConn reads the lockfile and assembles a fresh credential bundle. An
// unreadable or malformed lockfile yields a disabled conn that remembers the
// path, so the next refresh retries it.
func (c *Client) buildConn(path string, mtime time.Time) *conn {
	data, err := os.ReadFile(path)
	if err != nil {
		c.log.Debug("lockfile unreadable", zap.String("path", path), zap.Error(err))
		return &conn{lockPath: path, mtime: mtime}
	}
	lf, err := ParseLockfile(data)
	if err != nil {
		c.log.Debug("lockfile malformed", zap.String("path", path), zap.Error(err))
		return &conn{lockPath: path, mtime: mtime}
	}
	proto := lf.Protocol
	if proto == "" {
		proto = "https"
	}
	return &conn{
		ok:       true,
		lockPath: path,
		mtime:    mtime,
		port:     lf.Port,
		secret:   lf.Secret,
		baseURL:  fmt.Sprintf("%s://127.0.0.1:%d", proto, lf.Port),
		http:     newHTTPClient(),
	}
}

func newHTTPClient() *http.Client {
	// The client presents a self-signed certificate that rotates with the
	// process, and local proxies must never intercept loopback traffic.
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           nil,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

func (c *Client) install(next *conn) {
	prev := c.conn.Swap(next)
	switch {
	case next.ok && !prev.ok:
		c.log.Info("client api ready", zap.Int("port", next.port))
	case next.ok && (prev.port != next.port || prev.secret != next.secret):
		c.log.Info("client credentials reloaded", zap.Int("port", next.port))
	case !next.ok && prev.ok:
		c.log.Debug("client api unavailable")
	}
}

// disable drops the active credentials but keeps the lockfile identity, so
// the next unforced refresh rebuilds from the same file.
func (c *Client) disable(reason string) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	cur := c.conn.Load()
	if !cur.ok {
		return
	}
	c.log.Debug("client api disabled", zap.String("reason", reason))
	c.conn.Store(&conn{lockPath: cur.lockPath, mtime: cur.mtime})
}

// Get performs an authenticated read of path. A 404 or 405 means the
// endpoint has nothing right now and reports absent without a retry. A
// transport failure or any other bad status triggers exactly one forced
// refresh and one retry; a second failure reports absent and leaves the
// client disabled until the next refresh.
func (c *Client) Get(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, bool) {
	if !c.Ready() {
		c.RefreshIfNeeded(false)
		if !c.Ready() {
			return nil, false
		}
	}
	data, ok, retry := c.tryGet(ctx, path, timeout)
	if !retry {
		return data, ok
	}
	c.RefreshIfNeeded(true)
	if !c.Ready() {
		return nil, false
	}
	data, ok, retry = c.tryGet(ctx, path, timeout)
	if retry {
		c.disable("request failed after refresh")
		return nil, false
	}
	return data, ok
}

func (c *Client) tryGet(ctx context.Context, path string, timeout time.Duration) (data json.RawMessage, ok bool, retry bool) {
	cc := c.conn.Load()
	if !cc.ok {
		return nil, false, false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cc.baseURL+path, nil)
	if err != nil {
		return nil, false, false
	}
	req.SetBasicAuth("riot", cc.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := cc.http.Do(req)
	if err != nil {
		return nil, false, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed:
		return nil, false, false
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, true
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, true
	}
	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, false
	}
	return raw, true, false
}

// Phase returns the current gameflow phase.
func (c *Client) Phase(ctx context.Context) (string, bool) {
	raw, ok := c.Get(ctx, pathGameflowPhase, DefaultTimeout)
	if !ok {
		return "", false
	}
	var phase string
	if err := json.Unmarshal(raw, &phase); err != nil {
		return "", false
	}
	return phase, true
}

// HoveredChampionID returns the champion the local player is hovering, zero
// included. Absent outside champ select.
func (c *Client) HoveredChampionID(ctx context.Context) (int, bool) {
	raw, ok := c.Get(ctx, pathHoveredChamp, DefaultTimeout)
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return int(v), true
}

// Session returns the current champ-select session. Malformed sections are
// tolerated and flagged on the returned value; only a payload that is not a
// session object at all reports absent.
func (c *Client) Session(ctx context.Context) (*champselect.Session, bool) {
	raw, ok := c.Get(ctx, pathSession, DefaultTimeout)
	if !ok {
		return nil, false
	}
	sess, err := champselect.DecodeSession(raw)
	if sess == nil {
		return nil, false
	}
	if err != nil {
		c.log.Debug("session payload partially decoded", zap.Error(err))
	}
	return sess, true
}

// MySelection reads the local player's loadout selection, falling back to
// the legacy endpoint used by older client builds.
func (c *Client) MySelection(ctx context.Context) (*champselect.MySelection, bool) {
	for _, p := range []string{pathMySelection, pathMySelectionOld} {
		raw, ok := c.Get(ctx, p, DefaultTimeout)
		if !ok {
			continue
		}
		var sel champselect.MySelection
		if err := json.Unmarshal(raw, &sel); err != nil {
			continue
		}
		return &sel, true
	}
	return nil, false
}

// OwnedChampionIDs lists the champions the account owns.
func (c *Client) OwnedChampionIDs(ctx context.Context) ([]int, bool) {
	raw, ok := c.Get(ctx, pathOwnedChamps, DefaultTimeout)
	if !ok {
		return nil, false
	}
	var rows []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	ids := make([]int, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, true
}

// OwnedSkinIDs lists the skins the account owns.
func (c *Client) OwnedSkinIDs(ctx context.Context) ([]int, bool) {
	raw, ok := c.Get(ctx, pathOwnedSkins, DefaultTimeout)
	if !ok {
		return nil, false
	}
	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

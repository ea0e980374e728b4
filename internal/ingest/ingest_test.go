package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/lcu-watch/internal/champselect"
	"github.com/DoyleJ11/lcu-watch/internal/state"
	"github.com/DoyleJ11/lcu-watch/internal/ticker"
)

type stubLCU struct {
	mu           sync.Mutex
	port         int
	secret       string
	ready        bool
	phase        string
	phaseOK      bool
	sessions     []*champselect.Session
	sessionCalls int
	refreshes    int
}

func (s *stubLCU) RefreshIfNeeded(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
}

func (s *stubLCU) Credentials() (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port, s.secret, s.ready
}

func (s *stubLCU) Phase(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.phaseOK
}

// Session pops the queued payloads one by one; the last one repeats.
func (s *stubLCU) Session(ctx context.Context) (*champselect.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCalls++
	if len(s.sessions) == 0 {
		return nil, false
	}
	sess := s.sessions[0]
	if len(s.sessions) > 1 {
		s.sessions = s.sessions[1:]
	}
	return sess, true
}

func (s *stubLCU) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionCalls
}

type fixture struct {
	w    *Watcher
	st   *state.Shared
	lcu  *stubLCU
	logs *observer.ObservedLogs
	ctx  context.Context
}

func newFixture(t *testing.T, lcu *stubLCU, cfg Config) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	st := state.New()
	clock := clockwork.NewRealClock()
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = time.Millisecond
	}
	// An hour-long tick keeps armed epochs inert while derivations run.
	cd := ticker.New(st, lcu, nil, clock, nil, ticker.Config{TickInterval: time.Hour}, logger.Named("ticker"))
	w := New(lcu, st, nil, cd, clock, cfg, logger.Named("ingest"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &fixture{w: w, st: st, lcu: lcu, logs: logs, ctx: ctx}
}

func (f *fixture) logged(msg string) int {
	return len(f.logs.FilterMessage(msg).All())
}

func frame(uri, data string) []byte {
	return []byte(fmt.Sprintf(`[8,"OnJsonApiEvent",{"uri":%q,"eventType":"Update","data":%s}]`, uri, data))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		wantURI string
	}{
		{"api event array", `[8,"OnJsonApiEvent",{"uri":"/x","eventType":"Update","data":5}]`, true, "/x"},
		{"bare object", `{"uri":"/y","eventType":"Delete","data":{}}`, true, "/y"},
		{"subscribe ack", `[5,"OnJsonApiEvent"]`, false, ""},
		{"wrong opcode", `[7,"t",{"uri":"/x"}]`, false, ""},
		{"array payload without uri", `[8,"t",{"eventType":"Update"}]`, false, ""},
		{"object without uri", `{"eventType":"Update"}`, false, ""},
		{"scalar", `42`, false, ""},
		{"string", `"hello"`, false, ""},
		{"garbage", `{]`, false, ""},
		{"payload not an object", `[8,"t",17]`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := decodeFrame([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && ev.URI != tt.wantURI {
				t.Fatalf("uri = %q, want %q", ev.URI, tt.wantURI)
			}
		})
	}
}

func TestPhaseTransitions(t *testing.T) {
	f := newFixture(t, &stubLCU{}, Config{})

	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))
	if got := f.st.Phase(); got != champselect.PhaseChampSelect {
		t.Fatalf("phase = %q", got)
	}
	// A duplicate phase frame must not announce again.
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))
	if n := f.logged("phase change"); n != 1 {
		t.Fatalf("phase change logged %d times, want 1", n)
	}

	f.st.SetHoveredChampionID(103)
	f.st.SetLockedChampionID(266)
	f.st.SetPlayersVisible(10)
	f.st.ReplaceLocks(map[int]int{0: 266})
	f.st.ArmEpoch(10*time.Second, time.Now(), "finalization")

	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"EndOfGame"`))
	snap := f.st.Snapshot()
	if snap.HoveredChampionID != 0 || snap.PlayersVisible != 0 || snap.LockedCount != 0 {
		t.Fatalf("exit left session fields behind: %+v", snap)
	}
	if snap.LockedChampionID != 266 {
		t.Fatalf("locked champion = %d, exit must keep it", snap.LockedChampionID)
	}
	if f.st.CountdownActive() {
		t.Fatal("exit must cancel the countdown epoch")
	}
	if n := f.logged("countdown canceled"); n != 1 {
		t.Fatalf("countdown canceled logged %d times, want 1", n)
	}

	// Malformed phase payloads are dropped whole.
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `12`))
	if got := f.st.Phase(); got != champselect.PhaseEndOfGame {
		t.Fatalf("phase = %q after junk payload", got)
	}
}

func TestHoverDedup(t *testing.T) {
	f := newFixture(t, &stubLCU{}, Config{})

	f.w.dispatch(f.ctx, frame(uriHoveredChamp, `103`))
	f.w.dispatch(f.ctx, frame(uriHoveredChamp, `103`))
	if n := f.logged("champion hovered"); n != 1 {
		t.Fatalf("hover logged %d times, want 1", n)
	}
	if got := f.st.HoveredChampionID(); got != 103 {
		t.Fatalf("hovered = %d", got)
	}

	f.w.dispatch(f.ctx, frame(uriHoveredChamp, `64`))
	if n := f.logged("champion hovered"); n != 2 {
		t.Fatalf("hover logged %d times, want 2", n)
	}

	// Hover cleared (champion deselected) is not an announcement.
	f.w.dispatch(f.ctx, frame(uriHoveredChamp, `0`))
	if n := f.logged("champion hovered"); n != 2 {
		t.Fatalf("hover logged %d times after zero, want 2", n)
	}
}

const threeVisibleNoLocks = `{
	"localPlayerCellId": 0,
	"myTeam": [{"cellId": 0, "championId": 0, "selectedSkinId": 0}, {"cellId": 1}],
	"theirTeam": [{"cellId": 5}],
	"actions": [[]],
	"timer": {"phase": "BAN_PICK", "adjustedTimeLeftInPhase": 30000}
}`

func sessionWithLocks(locks map[int]int, leftMS int) string {
	var acts string
	id := 1
	for cell, champ := range locks {
		if acts != "" {
			acts += ","
		}
		acts += fmt.Sprintf(`{"id": %d, "actorCellId": %d, "championId": %d, "type": "pick", "completed": true}`, id, cell, champ)
		id++
	}
	return fmt.Sprintf(`{
		"localPlayerCellId": 0,
		"myTeam": [{"cellId": 0}, {"cellId": 1}],
		"theirTeam": [{"cellId": 5}],
		"actions": [[%s]],
		"timer": {"phase": "BAN_PICK", "adjustedTimeLeftInPhase": %d}
	}`, acts, leftMS)
}

func TestSessionLockFlow(t *testing.T) {
	f := newFixture(t, &stubLCU{}, Config{})
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))

	f.w.dispatch(f.ctx, frame(uriChampSelect, threeVisibleNoLocks))
	if got := f.st.PlayersVisible(); got != 3 {
		t.Fatalf("players visible = %d, want 3", got)
	}

	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266}, 30000)))
	if n := f.logged("lock acquired"); n != 1 {
		t.Fatalf("lock acquired logged %d times, want 1", n)
	}
	if got := f.st.LockedChampionID(); got != 266 {
		t.Fatalf("local lock = %d, want 266 for cell 0", got)
	}

	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103, 5: 64}, 30000)))
	if n := f.logged("lock acquired"); n != 3 {
		t.Fatalf("lock acquired logged %d times, want 3", n)
	}
	if n := f.logged("all players locked"); n != 1 {
		t.Fatalf("all locked logged %d times, want 1", n)
	}

	// The same fully-locked session again must not re-announce.
	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103, 5: 64}, 30000)))
	if n := f.logged("all players locked"); n != 1 {
		t.Fatalf("all locked re-fired on identical snapshot")
	}

	// One lock vanishes, then returns: the flag re-arms and fires again.
	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103}, 30000)))
	if n := f.logged("lock released"); n != 1 {
		t.Fatalf("lock released logged %d times, want 1", n)
	}
	if f.st.AllLockedAnnounced() {
		t.Fatal("flag must reset when the count dips")
	}
	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103, 5: 64}, 30000)))
	if n := f.logged("all players locked"); n != 2 {
		t.Fatalf("all locked logged %d times, want 2 after dip and return", n)
	}

	// A transient empty snapshot must never zero the known player count.
	f.w.dispatch(f.ctx, frame(uriChampSelect, `{"myTeam": [], "theirTeam": [], "actions": [], "timer": {}}`))
	if got := f.st.PlayersVisible(); got != 3 {
		t.Fatalf("players visible = %d after empty snapshot, want 3", got)
	}
}

func TestMalformedActionsSkipLockDerivation(t *testing.T) {
	f := newFixture(t, &stubLCU{}, Config{})
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))
	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103}, 30000)))
	if got := f.st.Snapshot().LockedCount; got != 2 {
		t.Fatalf("locked = %d, want 2", got)
	}

	bad := `{
		"myTeam": [{"cellId": 0}, {"cellId": 1}],
		"theirTeam": [{"cellId": 5}],
		"actions": "garbage",
		"timer": {"phase": "BAN_PICK", "adjustedTimeLeftInPhase": 9000}
	}`
	f.w.dispatch(f.ctx, frame(uriChampSelect, bad))

	if n := f.logged("lock released"); n != 0 {
		t.Fatalf("malformed actions released %d locks", n)
	}
	if got := f.st.Snapshot().LockedCount; got != 2 {
		t.Fatalf("locked = %d after malformed actions, want 2", got)
	}
}

func TestSkinAnnouncedOncePerValue(t *testing.T) {
	f := newFixture(t, &stubLCU{}, Config{})
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))

	withSkin := `{
		"localPlayerCellId": 0,
		"myTeam": [{"cellId": 0, "championId": 266, "selectedSkinId": 266001}],
		"theirTeam": [],
		"actions": [],
		"timer": {}
	}`
	f.w.dispatch(f.ctx, frame(uriChampSelect, withSkin))
	f.w.dispatch(f.ctx, frame(uriChampSelect, withSkin))
	if n := f.logged("skin selected"); n != 1 {
		t.Fatalf("skin selected logged %d times, want 1", n)
	}
	if got := f.st.AnnouncedSkinID(); got != 266001 {
		t.Fatalf("announced skin = %d", got)
	}
}

func TestFinalizationTimerArmsCountdown(t *testing.T) {
	lcu := &stubLCU{}
	f := newFixture(t, lcu, Config{})
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))

	sess := `{
		"localPlayerCellId": 0,
		"myTeam": [{"cellId": 0}],
		"theirTeam": [],
		"actions": [],
		"timer": {"phase": "FINALIZATION", "adjustedTimeLeftInPhase": 28500}
	}`
	f.w.dispatch(f.ctx, frame(uriChampSelect, sess))

	ep, active := f.st.CountdownSnapshot()
	if !active {
		t.Fatal("finalization timer must arm an epoch")
	}
	if ep.Mode != string(ticker.ModeFinalization) || ep.AnchorRemaining != 28500*time.Millisecond {
		t.Fatalf("epoch = %+v, want finalization anchored at 28.5s", ep)
	}
	if lcu.calls() != 0 {
		t.Fatal("the authoritative trigger must not probe")
	}

	// Later finalization samples while armed stay no-ops.
	f.w.dispatch(f.ctx, frame(uriChampSelect, sess))
	if seq := f.st.CurrentSeq(); seq != 1 {
		t.Fatalf("seq = %d, want 1", seq)
	}
}

func TestProbeArmsWhenTimerLags(t *testing.T) {
	lcu := &stubLCU{sessions: []*champselect.Session{
		{Timer: champselect.Timer{AdjustedTimeLeftInPhase: 0}},
		{Timer: champselect.Timer{AdjustedTimeLeftInPhase: 0}},
		{Timer: champselect.Timer{AdjustedTimeLeftInPhase: 1500}},
	}}
	f := newFixture(t, lcu, Config{ProbeAttempts: 8, ProbeInterval: time.Millisecond})
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))

	allLocked := sessionWithLocks(map[int]int{0: 266, 1: 103, 5: 64}, 0)
	f.w.dispatch(f.ctx, frame(uriChampSelect, allLocked))

	ep, active := f.st.CountdownSnapshot()
	if !active {
		t.Fatal("probe must arm once a positive sample shows up")
	}
	if ep.Mode != string(ticker.ModeProbe) || ep.AnchorRemaining != 1500*time.Millisecond {
		t.Fatalf("epoch = %+v, want probe anchored at 1.5s", ep)
	}
	if got := lcu.calls(); got != 3 {
		t.Fatalf("probe read the session %d times, want 3", got)
	}
}

func TestProbeGivesUp(t *testing.T) {
	lcu := &stubLCU{sessions: []*champselect.Session{
		{Timer: champselect.Timer{AdjustedTimeLeftInPhase: 0}},
	}}
	f := newFixture(t, lcu, Config{ProbeAttempts: 4, ProbeInterval: time.Millisecond})
	f.w.dispatch(f.ctx, frame(uriGameflowPhase, `"ChampSelect"`))

	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103, 5: 64}, 0)))

	if f.st.CountdownActive() {
		t.Fatal("probe must not arm without a positive sample")
	}
	if got := lcu.calls(); got != 4 {
		t.Fatalf("probe read the session %d times, want 4", got)
	}
	// The next session update retries from scratch.
	f.w.dispatch(f.ctx, frame(uriChampSelect, sessionWithLocks(map[int]int{0: 266, 1: 103, 5: 64}, 0)))
	if got := lcu.calls(); got != 8 {
		t.Fatalf("probe read the session %d times total, want 8", got)
	}
}

func TestPrimeOnAttach(t *testing.T) {
	locked := map[int]int{0: 266, 1: 103}
	sess, err := champselect.DecodeSession([]byte(sessionWithLocks(locked, 30000)))
	if err != nil || sess == nil {
		t.Fatalf("fixture session failed to decode: %v", err)
	}
	lcu := &stubLCU{phase: "ChampSelect", phaseOK: true, sessions: []*champselect.Session{sess}}
	f := newFixture(t, lcu, Config{})

	f.w.prime(f.ctx)

	if got := f.st.Phase(); got != champselect.PhaseChampSelect {
		t.Fatalf("phase = %q after prime", got)
	}
	snap := f.st.Snapshot()
	if snap.PlayersVisible != 3 || snap.LockedCount != 2 {
		t.Fatalf("snapshot = %+v, want 3 visible 2 locked", snap)
	}
}

func TestRunConnectsSubscribesAndReconnects(t *testing.T) {
	var conns atomic.Int64
	serverCtx, serverCancel := context.WithCancel(context.Background())

	srv := httptest.NewTLSServer(http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("missing authorization header")
		}
		c, err := websocket.Accept(wr, r, &websocket.AcceptOptions{Subprotocols: []string{"wamp"}})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		n := conns.Add(1)

		_, msg, err := c.Read(serverCtx)
		if err != nil {
			return
		}
		if string(msg) != subscribeFrame {
			t.Errorf("first frame = %q, want subscription", msg)
		}

		if n == 1 {
			// First connection: deliver one event, then hang up to force a
			// reconnect.
			_ = c.Write(serverCtx, websocket.MessageText, frame(uriGameflowPhase, `"Lobby"`))
			time.Sleep(50 * time.Millisecond)
			c.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		_ = c.Write(serverCtx, websocket.MessageText, frame(uriGameflowPhase, `"Matchmaking"`))
		<-serverCtx.Done()
		c.CloseNow()
	}))
	// Handlers park on serverCtx, so it must fall before Close waits on them.
	defer srv.Close()
	defer serverCancel()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	lcu := &stubLCU{port: port, secret: "sekrit", ready: true, phase: "None", phaseOK: true}
	f := newFixture(t, lcu, Config{ReconnectBackoff: 10 * time.Millisecond, PingInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	waitFor(t, func() bool { return f.st.Phase() == "Lobby" })
	waitFor(t, func() bool { return conns.Load() >= 2 })
	waitFor(t, func() bool { return f.st.Phase() == "Matchmaking" })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

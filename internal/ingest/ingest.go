package ingest

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lcu-watch/internal/champselect"
	"github.com/DoyleJ11/lcu-watch/internal/state"
	"github.com/DoyleJ11/lcu-watch/internal/ticker"
)

// Opcodes of the wamp-style envelope the client speaks on its event socket.
const (
	opSubscribe = 5
	opEvent     = 8
)

// subscribeFrame asks for every JSON API event in one subscription.
var subscribeFrame = fmt.Sprintf(`[%d,"OnJsonApiEvent"]`, opSubscribe)

// maxFrameSize accommodates full champ-select session payloads, which run
// well past the default websocket read limit.
const maxFrameSize = 1 << 22

// Source is the slice of the connection manager the event loop consumes.
type Source interface {
	RefreshIfNeeded(force bool)
	Credentials() (port int, secret string, ok bool)
	Phase(ctx context.Context) (string, bool)
	Session(ctx context.Context) (*champselect.Session, bool)
}

// NameSource resolves display names for log output. Failures degrade to
// opaque ids.
type NameSource interface {
	ChampionName(id int) (string, bool)
	SkinName(id int) (string, bool)
}

type Config struct {
	// ReconnectBackoff is the pause between connection attempts.
	ReconnectBackoff time.Duration
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
	// PingInterval and PingTimeout drive the keepalive probe.
	PingInterval time.Duration
	PingTimeout  time.Duration
	// ProbeAttempts and ProbeInterval shape the grace window that waits for
	// the client to publish a finalization timer after the last lock.
	ProbeAttempts int
	ProbeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 8
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 60 * time.Millisecond
	}
	return c
}

// Watcher owns the event subscription for the life of the process. It
// connects to the client's websocket, routes the events it cares about into
// derivations, and reconnects with a fixed backoff whenever the client goes
// away.
type Watcher struct {
	lcu       Source
	state     *state.Shared
	names     NameSource
	countdown *ticker.Countdown
	clock     clockwork.Clock
	cfg       Config
	log       *zap.Logger
}

func New(src Source, st *state.Shared, names NameSource, countdown *ticker.Countdown, clock clockwork.Clock, cfg Config, log *zap.Logger) *Watcher {
	return &Watcher{
		lcu:       src,
		state:     st,
		names:     names,
		countdown: countdown,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// Run blocks until the context ends: connect, subscribe, drain, back off,
// repeat. Credential refresh happens before every attempt so a restarted
// client is picked up without outside help.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		w.lcu.RefreshIfNeeded(false)
		if port, secret, ok := w.lcu.Credentials(); ok {
			w.session(ctx, port, secret)
		}
		if !w.sleep(ctx, w.cfg.ReconnectBackoff) {
			return nil
		}
	}
}

// session runs one websocket connection to completion.
func (w *Watcher) session(ctx context.Context, port int, secret string) {
	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, fmt.Sprintf("wss://127.0.0.1:%d/", port), dialOptions(port, secret))
	cancel()
	if err != nil {
		w.log.Debug("event socket dial failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	if err := conn.Write(ctx, websocket.MessageText, []byte(subscribeFrame)); err != nil {
		w.log.Debug("event subscribe failed", zap.Error(err))
		return
	}
	w.log.Info("event socket connected", zap.Int("port", port))

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go w.keepalive(pingCtx, conn)

	// Events only describe changes, so a mid-phase attach primes current
	// state with direct reads before draining the stream.
	w.prime(ctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			w.log.Debug("event socket closed", zap.Error(err))
			return
		}
		w.dispatch(ctx, data)
	}
}

func dialOptions(port int, secret string) *websocket.DialOptions {
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("riot:"+secret)))
	header.Set("Origin", fmt.Sprintf("https://127.0.0.1:%d", port))
	return &websocket.DialOptions{
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:           nil,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		HTTPHeader:   header,
		Subprotocols: []string{"wamp"},
	}
}

// keepalive pings until the connection or the context dies, and tears the
// connection down on a missed pong so the read loop unblocks.
func (w *Watcher) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := w.clock.NewTicker(w.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
		}
		pingCtx, cancel := context.WithTimeout(ctx, w.cfg.PingTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Debug("keepalive failed", zap.Error(err))
				conn.CloseNow()
			}
			return
		}
	}
}

// prime pulls the current phase, and inside champ select the current
// session, so derived state is correct before the first event lands.
func (w *Watcher) prime(ctx context.Context) {
	phase, ok := w.lcu.Phase(ctx)
	if !ok {
		return
	}
	w.applyPhase(phase)
	if phase != champselect.PhaseChampSelect {
		return
	}
	if sess, ok := w.lcu.Session(ctx); ok {
		w.applySession(ctx, sess)
	}
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	t := w.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

package ticker

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lcu-watch/internal/champselect"
	"github.com/DoyleJ11/lcu-watch/internal/state"
)

// Mode says which trigger armed the countdown.
type Mode string

const (
	ModeFinalization Mode = "finalization"
	ModeProbe        Mode = "probe"
)

// TickSink receives every published projection. The default sink is nil and
// ticks only reach the log; tests install counting doubles.
type TickSink interface {
	Tick(seq uint64, remaining time.Duration, mode Mode)
}

// SessionSource re-samples the authoritative timer mid-flight.
type SessionSource interface {
	Session(ctx context.Context) (*champselect.Session, bool)
}

// NameSource labels countdown output. Lookups that fail degrade to an
// opaque champion id.
type NameSource interface {
	ChampionName(id int) (string, bool)
}

type Config struct {
	// TickInterval is the period between published projections.
	TickInterval time.Duration
	// Fallback hard-stops an epoch that the remote phase never ends. Zero
	// disables it.
	Fallback time.Duration
	// Resample is how often the authoritative timer is re-read and the
	// anchor snapped to it. Zero disables re-sampling.
	Resample time.Duration
}

// Countdown projects remaining champ-select time between authoritative
// samples. Exactly one epoch runs at a time; arming while one is active is a
// no-op, and a superseded epoch stops publishing the moment it loses the
// state gate.
type Countdown struct {
	state  *state.Shared
	source SessionSource
	names  NameSource
	clock  clockwork.Clock
	sink   TickSink
	cfg    Config
	log    *zap.Logger
}

func New(st *state.Shared, source SessionSource, names NameSource, clock clockwork.Clock, sink TickSink, cfg Config, log *zap.Logger) *Countdown {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Countdown{
		state:  st,
		source: source,
		names:  names,
		clock:  clock,
		sink:   sink,
		cfg:    cfg,
		log:    log,
	}
}

// Arm starts a countdown epoch from the given remaining-time sample and
// reports whether it won the active slot. Callers simply retry on later
// session updates when it did not.
func (c *Countdown) Arm(ctx context.Context, remaining time.Duration, mode Mode) bool {
	ep, ok := c.state.ArmEpoch(remaining, c.clock.Now(), string(mode))
	if !ok {
		return false
	}
	label := c.label()
	c.log.Info("countdown armed",
		zap.Uint64("epoch", ep.Seq),
		zap.String("mode", string(mode)),
		zap.Duration("remaining", remaining),
		zap.String("champion", label),
	)
	go c.run(ctx, ep, label)
	return true
}

// label names the champion the countdown is about: the local lock if there
// is one, else the current hover.
func (c *Countdown) label() string {
	id := c.state.LockedChampionID()
	if id == 0 {
		id = c.state.HoveredChampionID()
	}
	if id == 0 {
		return ""
	}
	if c.names != nil {
		if name, ok := c.names.ChampionName(id); ok {
			return name
		}
	}
	return fmt.Sprintf("champion-%d", id)
}

func (c *Countdown) run(ctx context.Context, ep state.Epoch, label string) {
	anchorAt := ep.AnchorAt
	anchorRemaining := ep.AnchorRemaining
	armedAt := ep.AnchorAt
	lastResample := ep.AnchorAt

	tick := c.clock.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
		}

		now := c.clock.Now()
		remaining := anchorRemaining - now.Sub(anchorAt)
		if remaining < 0 {
			remaining = 0
		}
		if !c.state.SetRemaining(ep.Seq, remaining) {
			// Another epoch owns the countdown now; a stale epoch must not
			// publish a single further value.
			c.log.Debug("countdown superseded", zap.Uint64("epoch", ep.Seq))
			return
		}
		if c.sink != nil {
			c.sink.Tick(ep.Seq, remaining, Mode(ep.Mode))
		}
		c.log.Info("countdown",
			zap.Uint64("epoch", ep.Seq),
			zap.Duration("remaining", remaining),
			zap.String("champion", label),
		)

		if remaining == 0 {
			c.state.FinishEpoch(ep.Seq)
			c.log.Info("countdown finished", zap.Uint64("epoch", ep.Seq), zap.String("champion", label))
			return
		}
		if c.cfg.Fallback > 0 && now.Sub(armedAt) >= c.cfg.Fallback {
			c.state.FinishEpoch(ep.Seq)
			c.log.Info("countdown fallback elapsed", zap.Uint64("epoch", ep.Seq), zap.Duration("after", c.cfg.Fallback))
			return
		}
		if c.cfg.Resample > 0 && now.Sub(lastResample) >= c.cfg.Resample {
			lastResample = now
			if fresh, ok := c.resample(ctx); ok {
				// Snap to the authoritative sample wholesale, no blending.
				anchorAt = c.clock.Now()
				anchorRemaining = fresh
				c.state.RebaseEpoch(ep.Seq, fresh, anchorAt)
				c.log.Debug("countdown rebased", zap.Uint64("epoch", ep.Seq), zap.Duration("remaining", fresh))
			}
		}
	}
}

func (c *Countdown) resample(ctx context.Context) (time.Duration, bool) {
	if c.source == nil {
		return 0, false
	}
	sess, ok := c.source.Session(ctx)
	if !ok || sess == nil || sess.Bad.Timer {
		return 0, false
	}
	left := sess.Timer.Remaining()
	if left <= 0 {
		return 0, false
	}
	return left, true
}

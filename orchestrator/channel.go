package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/affect-pipeline/features"
)

// ErrBusy reports input dropped because the previous tick is still running.
var ErrBusy = errors.New("channel busy")

const (
	defaultWarnAfter   = 3
	defaultLoadBackoff = time.Second
)

// Resource is the exclusive handle a channel holds while enabled.
type Resource interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Detector runs one tick in two halves. Score extracts and scores and may
// block on collaborators; Smooth records into history and only runs for
// ticks that are still current.
type Detector[In any] interface {
	Score(ctx context.Context, in In) (Raw, error)
	Smooth(raw Raw) Reading
}

// Source yields the input of a timer-driven tick. It returns
// features.ErrNoSignal when there is nothing new.
type Source[In any] func(ctx context.Context) (In, error)

// Hooks receive channel events. They run on the channel's goroutines and
// must not call back into the channel's lifecycle methods synchronously.
type Hooks struct {
	OnReading func(Reading)
	OnState   func(StateChange)
	OnWarning func(Warning)
}

// ChannelConfig wires one channel.
type ChannelConfig[In any] struct {
	Name     Name
	Resource Resource
	Detector Detector[In]
	// Source and Interval drive a ticker; leave Source nil for channels fed
	// through Submit.
	Source      Source[In]
	Interval    time.Duration
	SettleDelay time.Duration
	// LoadBackoff is the wait before the single automatic retry of a
	// failed model load.
	LoadBackoff time.Duration
	WarnAfter   int
	Hooks       Hooks
	Log         logrus.FieldLogger
}

// Channel is the lifecycle state machine of one detection channel:
// Idle -> Loading -> Ready -> Active <-> Paused, and any state -> Stopped.
type Channel[In any] struct {
	cfg ChannelConfig[In]
	log logrus.FieldLogger

	// life serializes Enable, Disable, Retry, Pause and Resume.
	life sync.Mutex
	// wg counts the ticker loop and in-flight submitted ticks.
	wg sync.WaitGroup

	mu       sync.Mutex
	state    State
	session  Session
	token    uint64
	loopCtx  context.Context
	cancel   context.CancelFunc
	failures int
	warned   bool

	busy atomic.Bool
}

// NewChannel returns an Idle channel.
func NewChannel[In any](cfg ChannelConfig[In]) *Channel[In] {
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = defaultWarnAfter
	}
	if cfg.LoadBackoff <= 0 {
		cfg.LoadBackoff = defaultLoadBackoff
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Channel[In]{
		cfg:     cfg,
		log:     cfg.Log.WithField("channel", cfg.Name),
		state:   StateIdle,
		loopCtx: context.Background(),
	}
}

func (c *Channel[In]) Name() Name { return c.cfg.Name }

func (c *Channel[In]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session.
func (c *Channel[In]) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Enable acquires the resource and starts detection. Enabling a running
// channel is a no-op. A failed acquisition leaves the channel Stopped with
// Session().LastError set; only a model load failure is retried, once.
func (c *Channel[In]) Enable(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()
	return c.enable(ctx)
}

func (c *Channel[In]) enable(ctx context.Context) error {
	if c.State().acquired() {
		return nil
	}
	c.transition(StateLoading, nil)

	if err := c.acquire(ctx); err != nil {
		c.mu.Lock()
		c.session = Session{LastError: err}
		c.mu.Unlock()
		c.transition(StateStopped, err)
		return fmt.Errorf("%s: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.token++
	c.session = Session{ID: uuid.NewString(), Token: c.token, Ready: true}
	c.failures, c.warned = 0, false
	c.mu.Unlock()
	c.transition(StateReady, nil)

	c.start()
	return nil
}

func (c *Channel[In]) acquire(ctx context.Context) error {
	err := c.cfg.Resource.Acquire(ctx)
	if err == nil || KindOf(err) != KindModelLoadFailed {
		return err
	}
	c.log.WithError(err).WithField("backoff", c.cfg.LoadBackoff).Warn("model load failed; retrying once")

	t := time.NewTimer(c.cfg.LoadBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	case <-t.C:
	}
	return c.cfg.Resource.Acquire(ctx)
}

// start launches the ticker loop, if any, and moves to Active.
func (c *Channel[In]) start() {
	c.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	c.loopCtx, c.cancel = ctx, cancel
	c.session.Active = true
	token := c.token
	if c.cfg.Source != nil && c.cfg.Interval > 0 {
		c.wg.Add(1)
		go c.loop(ctx, token)
	}
	c.mu.Unlock()
	c.transition(StateActive, nil)
}

// Pause stops the detection loop but keeps the resource.
func (c *Channel[In]) Pause() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	switch c.state {
	case StatePaused:
		c.mu.Unlock()
		return nil
	case StateActive:
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
	c.halt()
	c.mu.Unlock()

	c.wg.Wait()
	c.transition(StatePaused, nil)
	return nil
}

// Resume restarts a paused channel.
func (c *Channel[In]) Resume() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateActive:
		c.mu.Unlock()
		return nil
	case StatePaused:
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
	c.token++
	c.session.Token = c.token
	c.mu.Unlock()

	c.start()
	return nil
}

// Disable stops detection and releases the resource. It is idempotent, and
// once it returns no reading of the torn-down session will be delivered.
func (c *Channel[In]) Disable() error {
	c.life.Lock()
	defer c.life.Unlock()
	return c.teardown()
}

// Close is Disable for deferred cleanup.
func (c *Channel[In]) Close() error { return c.Disable() }

func (c *Channel[In]) teardown() error {
	c.mu.Lock()
	st := c.state
	if st == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.halt()
	c.mu.Unlock()

	c.wg.Wait()

	var err error
	if st.acquired() {
		if err = c.cfg.Resource.Release(); err != nil {
			c.log.WithError(err).Warn("release resource")
		}
	}
	c.mu.Lock()
	c.session = Session{}
	c.mu.Unlock()
	c.transition(StateStopped, nil)
	return err
}

// halt invalidates the session token and stops the loop. Callers hold mu.
func (c *Channel[In]) halt() {
	c.token++
	c.session.Token = c.token
	c.session.Active = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Retry tears down, waits the settle delay and enables again. Smoothing
// history lives in the detector and is kept.
func (c *Channel[In]) Retry(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	if err := c.teardown(); err != nil {
		c.log.WithError(err).Warn("retry: teardown")
	}
	if c.cfg.SettleDelay > 0 {
		t := time.NewTimer(c.cfg.SettleDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.enable(ctx)
}

// Submit runs one tick on in, in the caller's goroutine.
func (c *Channel[In]) Submit(in In) error {
	c.mu.Lock()
	if c.state != StateActive || !c.session.Active {
		c.mu.Unlock()
		return ErrNotActive
	}
	ctx, token := c.loopCtx, c.token
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if !c.tick(ctx, token, in) {
		return ErrBusy
	}
	return nil
}

func (c *Channel[In]) loop(ctx context.Context, token uint64) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			in, err := c.cfg.Source(ctx)
			if err != nil {
				if !errors.Is(err, features.ErrNoSignal) && ctx.Err() == nil {
					c.fail(token, err)
				}
				continue
			}
			if !c.tick(ctx, token, in) {
				c.log.Debug("tick skipped: previous tick still running")
			}
		}
	}
}

// tick reports false when it was skipped because another tick is running.
func (c *Channel[In]) tick(ctx context.Context, token uint64, in In) bool {
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	defer c.busy.Store(false)

	raw, err := c.cfg.Detector.Score(ctx, in)
	if errors.Is(err, features.ErrNoSignal) {
		return true
	}
	if err != nil {
		if ctx.Err() == nil {
			c.fail(token, err)
		}
		return true
	}

	c.mu.Lock()
	if !c.current(token) {
		c.mu.Unlock()
		c.log.Debug("stale tick dropped")
		return true
	}
	r := c.cfg.Detector.Smooth(raw)
	r.Channel = c.cfg.Name
	r.Session = c.session.ID
	c.session.Seen = true
	c.failures, c.warned = 0, false
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"category":   r.Category,
		"confidence": r.Confidence,
	}).Debug("observation")
	if c.cfg.Hooks.OnReading != nil {
		c.cfg.Hooks.OnReading(r)
	}
	return true
}

// current reports whether token belongs to the running session. Callers
// hold mu.
func (c *Channel[In]) current(token uint64) bool {
	return token == c.token && c.state == StateActive && c.session.Active
}

// fail counts a transient tick failure and warns once per streak.
func (c *Channel[In]) fail(token uint64, err error) {
	c.mu.Lock()
	if !c.current(token) {
		c.mu.Unlock()
		return
	}
	c.failures++
	n := c.failures
	warn := n >= c.cfg.WarnAfter && !c.warned
	if warn {
		c.warned = true
	}
	c.mu.Unlock()

	c.log.WithError(err).WithField("failures", n).Warn("detection tick failed")
	if warn && c.cfg.Hooks.OnWarning != nil {
		c.cfg.Hooks.OnWarning(Warning{Channel: c.cfg.Name, Failures: n, Err: err})
	}
}

func (c *Channel[In]) transition(to State, err error) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"from": from, "to": to}).Error("invalid state transition")
		return
	}
	c.state = to
	c.mu.Unlock()

	entry := c.log.WithFields(logrus.Fields{"from": from, "to": to})
	if err != nil {
		entry.WithError(err).Warn("channel stopped")
	} else {
		entry.Info("channel state changed")
	}
	if c.cfg.Hooks.OnState != nil {
		c.cfg.Hooks.OnState(StateChange{Channel: c.cfg.Name, From: from, To: to, Kind: KindOf(err), Err: err})
	}
}

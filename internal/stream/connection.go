package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nhle/novel-notify/internal/model"
)

// State is the lifecycle state of the push connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Status is a snapshot of the connection surfaced to the subscriber.
type Status struct {
	State    State
	Attempts int
	// GaveUp is set once MaxReconnectAttempts is exhausted. Only an external
	// trigger (Visible, Online, Connect) clears it.
	GaveUp bool
	// RetryIn is the delay of the pending reconnect, if any.
	RetryIn time.Duration
	// Err is the last transport error.
	Err error
}

// Dialer opens the push stream.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
}

// Pinger sends the best-effort keep-alive request.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Scheduler runs f once after d. The returned function cancels it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

var errStuckConnecting = errors.New("stuck connecting")

// Options configures a Connection.
type Options struct {
	BaseDelay            time.Duration
	Multiplier           float64
	MaxReconnectAttempts int
	KeepAliveInterval    time.Duration
	StuckTimeout         time.Duration

	// OnNotification receives every decoded notification in arrival order.
	OnNotification func(model.Notification)
	// OnStatus receives state changes in the order they happened. Never
	// called with the state lock held.
	OnStatus func(Status)

	Logger    *zap.Logger
	Scheduler Scheduler
}

// OptionsFromConfig copies the stream settings from cfg.
func OptionsFromConfig(cfg model.StreamConfig) Options {
	return Options{
		BaseDelay:            cfg.BaseDelay,
		Multiplier:           cfg.Multiplier,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		KeepAliveInterval:    cfg.KeepAliveInterval,
		StuckTimeout:         cfg.StuckTimeout,
	}
}

// Connection keeps at most one live push stream open and reconnects with
// bounded exponential backoff when the transport fails.
type Connection struct {
	dialer Dialer
	pinger Pinger
	opts   Options
	logger *zap.Logger
	sched  Scheduler

	// emitMu is taken before mu by every transition and held until its
	// status has been delivered.
	emitMu sync.Mutex

	mu            sync.Mutex
	state         State
	attempts      int
	gaveUp        bool
	retryIn       time.Duration
	lastErr       error
	gen           uint64
	cancel        context.CancelFunc
	backoff       backoff.BackOff
	stopRetry     func() bool
	stopKeepAlive chan struct{}

	wg sync.WaitGroup
}

// New creates a closed connection. Call Connect to start it.
func New(dialer Dialer, pinger Pinger, opts Options) *Connection {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 5 * time.Second
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1.5
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 30 * time.Second
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = timerScheduler{}
	}

	return &Connection{
		dialer:  dialer,
		pinger:  pinger,
		opts:    opts,
		logger:  logger.Named("stream"),
		sched:   sched,
		backoff: newBackOff(opts),
	}
}

// newBackOff yields BaseDelay * Multiplier^(n-1) for attempt n and stops
// after MaxReconnectAttempts.
func newBackOff(opts Options) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.BaseDelay
	eb.Multiplier = opts.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxInterval = 24 * time.Hour
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(opts.MaxReconnectAttempts))
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the connection.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Connection) statusLocked() Status {
	return Status{
		State:    c.state,
		Attempts: c.attempts,
		GaveUp:   c.gaveUp,
		RetryIn:  c.retryIn,
		Err:      c.lastErr,
	}
}

// transition runs apply under the state lock and delivers the resulting
// status when apply reports a change.
func (c *Connection) transition(apply func() bool) (Status, bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	changed := apply()
	st := c.statusLocked()
	c.mu.Unlock()

	if changed && c.opts.OnStatus != nil {
		c.opts.OnStatus(st)
	}
	return st, changed
}

// Connect opens the stream. It is a no-op while the connection is already
// open or connecting, so every trigger may call it freely.
func (c *Connection) Connect() {
	c.transition(c.connectLocked)
}

func (c *Connection) connectLocked() bool {
	if c.state != StateClosed {
		return false
	}
	if c.stopRetry != nil {
		c.stopRetry()
		c.stopRetry = nil
	}

	c.gaveUp = false
	c.retryIn = 0
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting

	c.wg.Add(1)
	go c.run(ctx, gen)
	return true
}

// Disconnect closes the stream and cancels any pending reconnect. No
// automatic reconnect follows.
func (c *Connection) Disconnect() {
	_, changed := c.transition(func() bool {
		c.gen++
		c.closeTransportLocked()
		if c.stopRetry != nil {
			c.stopRetry()
			c.stopRetry = nil
		}
		changed := c.state != StateClosed
		c.state = StateClosed
		c.retryIn = 0
		return changed
	})
	if changed {
		c.logger.Info("stream disconnected")
	}
}

// Close disconnects and waits for the reader and keep-alive goroutines.
func (c *Connection) Close() {
	c.Disconnect()
	c.wg.Wait()
}

// Visible is called when the view becomes visible again.
func (c *Connection) Visible() {
	if c.State() == StateClosed {
		c.logger.Info("view visible, reconnecting")
		c.Connect()
	}
}

// Online is called when the network is known to be back.
func (c *Connection) Online() {
	if c.State() == StateClosed {
		c.logger.Info("network restored, reconnecting")
		c.Connect()
	}
}

// Focus is called when the view regains focus. A connection still stuck
// connecting after StuckTimeout is torn down and retried.
func (c *Connection) Focus() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()

	c.sched.AfterFunc(c.opts.StuckTimeout, func() {
		c.mu.Lock()
		stuck := gen == c.gen && c.state == StateConnecting
		c.mu.Unlock()
		if stuck {
			c.logger.Warn("stream stuck connecting, forcing reconnect")
			c.fail(gen, errStuckConnecting)
		}
	})
}

func (c *Connection) closeTransportLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stopKeepAlive != nil {
		close(c.stopKeepAlive)
		c.stopKeepAlive = nil
	}
}

func (c *Connection) run(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	body, err := c.dialer.Dial(ctx)
	if err != nil {
		c.fail(gen, err)
		return
	}
	defer body.Close()
	// Unblock a pending read once the transport is cancelled.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	if !c.opened(ctx, gen) {
		return
	}

	dec := NewDecoder(body)
	for {
		frame, err := dec.Next()
		if errors.Is(err, ErrFrameTooLarge) {
			c.logger.Warn("dropping oversized frame", zap.Int("limit", maxFrameSize))
			continue
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			c.fail(gen, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.dispatch(frame)
	}
}

func (c *Connection) opened(ctx context.Context, gen uint64) bool {
	_, ok := c.transition(func() bool {
		if gen != c.gen || c.state != StateConnecting {
			return false
		}
		c.state = StateOpen
		c.attempts = 0
		c.retryIn = 0
		c.lastErr = nil
		c.backoff.Reset()
		c.startKeepAliveLocked(ctx)
		return true
	})
	if ok {
		c.logger.Info("stream connected")
	}
	return ok
}

// fail closes the transport of generation gen and schedules a reconnect.
// Failures from a superseded transport are ignored.
func (c *Connection) fail(gen uint64, err error) {
	st, failed := c.transition(func() bool {
		if gen != c.gen || c.state == StateClosed {
			return false
		}
		c.closeTransportLocked()
		c.state = StateClosed
		c.lastErr = err
		c.scheduleRetryLocked()
		return true
	})
	if !failed {
		return
	}
	c.logger.Warn("stream failed",
		zap.Error(err),
		zap.Int("attempt", st.Attempts),
		zap.Duration("retry_in", st.RetryIn),
		zap.Bool("gave_up", st.GaveUp),
	)
}

func (c *Connection) scheduleRetryLocked() {
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		c.gaveUp = true
		c.retryIn = 0
		return
	}

	c.attempts++
	c.retryIn = delay
	gen := c.gen
	c.stopRetry = c.sched.AfterFunc(delay, func() { c.retry(gen) })
}

func (c *Connection) retry(gen uint64) {
	st, started := c.transition(func() bool {
		if gen != c.gen {
			return false
		}
		c.stopRetry = nil
		return c.connectLocked()
	})
	if started {
		c.logger.Info("reconnecting", zap.Int("attempt", st.Attempts))
	}
}

func (c *Connection) startKeepAliveLocked(ctx context.Context) {
	stop := make(chan struct{})
	c.stopKeepAlive = stop
	interval := c.opts.KeepAliveInterval

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.ping(ctx)
			}
		}
	}()
}

// ping is best effort: a failed ping never closes the stream by itself.
func (c *Connection) ping(ctx context.Context) {
	if c.pinger == nil || c.State() != StateOpen {
		return
	}
	if err := c.pinger.Ping(ctx); err != nil {
		c.logger.Debug("keep-alive ping failed", zap.Error(err))
	}
}

func (c *Connection) dispatch(f Frame) {
	var ev model.StreamEvent
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(f.Data)))
		return
	}

	switch ev.Type {
	case model.EventNotification:
		var n model.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil || n.ID == 0 {
			c.logger.Warn("dropping malformed notification", zap.Error(err))
			return
		}
		c.logger.Debug("notification received", zap.Int64("id", n.ID))
		if c.opts.OnNotification != nil {
			c.opts.OnNotification(n)
		}
	case model.EventConnection:
		c.logger.Info("server greeting received")
	case model.EventHeartbeat:
		c.logger.Debug("heartbeat")
	default:
		c.logger.Debug("ignoring event", zap.String("type", ev.Type))
	}
}

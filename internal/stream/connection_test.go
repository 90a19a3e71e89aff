package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/novel-notify/internal/api"
	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/testutil"
)

const waitTimeout = 3 * time.Second

type scheduled struct {
	delay time.Duration
	fn    func()
}

// fakeScheduler captures delays instead of sleeping. Tests fire them by hand.
type fakeScheduler struct {
	calls chan scheduled
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{calls: make(chan scheduled, 32)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	var stopped atomic.Bool
	s.calls <- scheduled{delay: d, fn: func() {
		if !stopped.Load() {
			f()
		}
	}}
	return func() bool { return !stopped.Swap(true) }
}

func (s *fakeScheduler) next(t *testing.T) scheduled {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a scheduled call")
		return scheduled{}
	}
}

func (s *fakeScheduler) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected scheduled call after %s", c.delay)
	case <-time.After(100 * time.Millisecond):
	}
}

type dialFunc func(ctx context.Context) (io.ReadCloser, error)

type fakeDialer struct {
	dials atomic.Int32
	fn    dialFunc
}

func (d *fakeDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	d.dials.Add(1)
	return d.fn(ctx)
}

type countingPinger struct {
	pings atomic.Int32
	err   error
}

func (p *countingPinger) Ping(context.Context) error {
	p.pings.Add(1)
	return p.err
}

type recorder struct {
	statuses chan Status
	mu       sync.Mutex
	got      []model.Notification
}

func newRecorder() *recorder {
	return &recorder{statuses: make(chan Status, 64)}
}

func (r *recorder) options(t *testing.T, sched Scheduler) Options {
	return Options{
		BaseDelay:            5 * time.Second,
		Multiplier:           1.5,
		MaxReconnectAttempts: 5,
		KeepAliveInterval:    time.Hour,
		StuckTimeout:         5 * time.Second,
		Logger:               zaptest.NewLogger(t),
		Scheduler:            sched,
		OnStatus:             func(s Status) { r.statuses <- s },
		OnNotification: func(n model.Notification) {
			r.mu.Lock()
			r.got = append(r.got, n)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) notifications() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.got))
	copy(out, r.got)
	return out
}

func (r *recorder) waitFor(t *testing.T, match func(Status) bool) Status {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.statuses:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for status")
			return Status{}
		}
	}
}

func isState(state State) func(Status) bool {
	return func(s Status) bool { return s.State == state }
}

func failingDial(context.Context) (io.ReadCloser, error) {
	return nil, errors.New("connection refused")
}

func TestConnection_BackoffDelaysAndGiveUp(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	dialer := &fakeDialer{fn: failingDial}
	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()

	want := []time.Duration{
		5 * time.Second,
		7500 * time.Millisecond,
		11250 * time.Millisecond,
		16875 * time.Millisecond,
		25312500 * time.Microsecond,
	}
	for i, d := range want {
		call := sched.next(t)
		assert.Equal(t, d, call.delay, "attempt %d", i+1)
		call.fn()
	}

	st := rec.waitFor(t, func(s Status) bool { return s.GaveUp })
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 5, st.Attempts)
	sched.assertIdle(t)
	assert.Equal(t, int32(6), dialer.dials.Load())
}

func TestConnection_ManualConnectAfterGiveUp(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	dialer := &fakeDialer{fn: failingDial}
	opts := rec.options(t, sched)
	opts.MaxReconnectAttempts = 1
	conn := New(dialer, nil, opts)
	defer conn.Close()

	conn.Connect()
	sched.next(t).fn()
	rec.waitFor(t, func(s Status) bool { return s.GaveUp })

	conn.Online()
	require.Eventually(t, func() bool { return dialer.dials.Load() == 3 }, waitTimeout, 10*time.Millisecond)

	// The backoff is only reset by a successful open.
	rec.waitFor(t, func(s Status) bool { return s.GaveUp })
	sched.assertIdle(t)
	assert.True(t, conn.Status().GaveUp)
}

func TestConnection_SuccessfulOpenResetsBackoff(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()

	var mu sync.Mutex
	var writer *io.PipeWriter
	dialer := &fakeDialer{}
	dialer.fn = func(context.Context) (io.ReadCloser, error) {
		if dialer.dials.Load() == 3 {
			pr, pw := io.Pipe()
			mu.Lock()
			writer = pw
			mu.Unlock()
			return pr, nil
		}
		return nil, errors.New("connection refused")
	}

	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	// Two failed dials use up part of the budget.
	conn.Connect()
	first := sched.next(t)
	assert.Equal(t, 5*time.Second, first.delay)
	first.fn()
	second := sched.next(t)
	assert.Equal(t, 7500*time.Millisecond, second.delay)
	rec.waitFor(t, func(s Status) bool { return s.Attempts == 2 })
	second.fn()

	rec.waitFor(t, isState(StateOpen))
	assert.Zero(t, conn.Status().Attempts)

	mu.Lock()
	require.NoError(t, writer.Close())
	mu.Unlock()

	st := rec.waitFor(t, isState(StateClosed))
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 5*time.Second, st.RetryIn)

	// The full budget is available again.
	delays := make([]time.Duration, 0, 5)
	for i := 0; i < 5; i++ {
		call := sched.next(t)
		delays = append(delays, call.delay)
		call.fn()
	}
	assert.Equal(t, 5*time.Second, delays[0])
	assert.Equal(t, 25312500*time.Microsecond, delays[4])

	rec.waitFor(t, func(s Status) bool { return s.GaveUp })
	sched.assertIdle(t)
	assert.Equal(t, int32(8), dialer.dials.Load())
}

func TestConnection_StatusesArriveInTransitionOrder(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec := newRecorder()
		pr, pw := io.Pipe()
		dialer := &fakeDialer{fn: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
		conn := New(dialer, nil, rec.options(t, newFakeScheduler()))

		conn.Connect()
		first := rec.waitFor(t, func(Status) bool { return true })
		second := rec.waitFor(t, func(Status) bool { return true })
		assert.Equal(t, StateConnecting, first.State)
		assert.Equal(t, StateOpen, second.State)

		conn.Close()
		_ = pw.Close()
	}
}

func TestConnection_NoDuplicateDial(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()

	release := make(chan struct{})
	pr, pw := io.Pipe()
	defer pw.Close()
	dialer := &fakeDialer{fn: func(ctx context.Context) (io.ReadCloser, error) {
		select {
		case <-release:
			return pr, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	conn.Connect()
	conn.Visible()
	conn.Online()
	assert.Equal(t, StateConnecting, conn.State())

	close(release)
	rec.waitFor(t, isState(StateOpen))

	conn.Connect()
	conn.Visible()
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestConnection_DeliversNotificationsAndDropsMalformed(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	pr, pw := io.Pipe()
	dialer := &fakeDialer{fn: func(context.Context) (io.ReadCloser, error) { return pr, nil }}

	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	rec.waitFor(t, isState(StateOpen))

	frames := "data: {\"type\":\"connection\",\"data\":{}}\n\n" +
		"data: not json\n\n" +
		"data: {\"type\":\"notification\",\"data\":\"oops\"}\n\n" +
		"data: {\"type\":\"heartbeat\"}\n\n" +
		"data: {\"type\":\"notification\",\"data\":{\"id\":7,\"title\":\"Chapter 12\"}}\n\n" +
		"data: {\"type\":\"notification\",\"data\":{\"id\":8,\"title\":\"Chapter 13\"}}\n\n"
	go func() { _, _ = pw.Write([]byte(frames)) }()

	require.Eventually(t, func() bool { return len(rec.notifications()) == 2 }, waitTimeout, 10*time.Millisecond)
	got := rec.notifications()
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "Chapter 13", got[1].Title)
	assert.Equal(t, StateOpen, conn.State())
}

func TestConnection_OversizedFrameKeepsStreamOpen(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()
	dialer := &fakeDialer{fn: func(context.Context) (io.ReadCloser, error) { return pr, nil }}

	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	rec.waitFor(t, isState(StateOpen))

	frames := "data: " + strings.Repeat("x", 2<<20) + "\n\n" +
		"data: {\"type\":\"notification\",\"data\":{\"id\":2,\"title\":\"Chapter 2\"}}\n\n"
	go func() { _, _ = pw.Write([]byte(frames)) }()

	require.Eventually(t, func() bool { return len(rec.notifications()) == 1 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, int64(2), rec.notifications()[0].ID)
	assert.Equal(t, StateOpen, conn.State())
	assert.NoError(t, conn.Status().Err)
	sched.assertIdle(t)
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestConnection_DisconnectCancelsPendingRetry(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	dialer := &fakeDialer{fn: failingDial}
	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	call := sched.next(t)
	conn.Disconnect()

	call.fn()
	sched.assertIdle(t)
	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnection_StaleFailureIgnored(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	dialer := &fakeDialer{fn: func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	conn.Disconnect()

	// The cancelled dial fails on its own goroutine but must not reschedule.
	sched.assertIdle(t)
	assert.Equal(t, StateClosed, conn.State())
}

func TestConnection_FocusForcesReconnectWhenStuck(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	dialer := &fakeDialer{fn: func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	conn.Focus()

	stuck := sched.next(t)
	assert.Equal(t, 5*time.Second, stuck.delay)
	stuck.fn()

	st := rec.waitFor(t, isState(StateClosed))
	assert.ErrorIs(t, st.Err, errStuckConnecting)
	assert.Equal(t, 1, st.Attempts)

	retry := sched.next(t)
	assert.Equal(t, 5*time.Second, retry.delay)
}

func TestConnection_FocusIgnoredWhenOpen(t *testing.T) {
	sched := newFakeScheduler()
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()
	dialer := &fakeDialer{fn: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
	conn := New(dialer, nil, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	rec.waitFor(t, isState(StateOpen))
	conn.Focus()
	sched.assertIdle(t)
}

func TestConnection_KeepAlivePings(t *testing.T) {
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()
	dialer := &fakeDialer{fn: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
	pinger := &countingPinger{err: errors.New("ping refused")}

	opts := rec.options(t, newFakeScheduler())
	opts.KeepAliveInterval = 20 * time.Millisecond
	conn := New(dialer, pinger, opts)

	conn.Connect()
	rec.waitFor(t, isState(StateOpen))

	require.Eventually(t, func() bool { return pinger.pings.Load() >= 3 }, waitTimeout, 10*time.Millisecond)
	// Failed pings never close an open stream.
	assert.Equal(t, StateOpen, conn.State())

	conn.Close()
	after := pinger.pings.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, pinger.pings.Load())
}

func TestConnection_AgainstPlatform(t *testing.T) {
	srv := testutil.NewServer(t)
	client := api.NewClient(srv.Config(), api.Credentials{
		SessionID: testutil.TestSession,
		CSRFToken: testutil.TestCSRF,
	}, zaptest.NewLogger(t))

	sched := newFakeScheduler()
	rec := newRecorder()
	conn := New(client, client, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	rec.waitFor(t, isState(StateOpen))
	require.Eventually(t, func() bool { return srv.OpenStreams() == 1 }, waitTimeout, 10*time.Millisecond)

	first := srv.Publish("Chapter 1 released")
	require.Eventually(t, func() bool { return len(rec.notifications()) == 1 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, first.ID, rec.notifications()[0].ID)

	srv.DropStreams()
	retry := sched.next(t)
	assert.Equal(t, 5*time.Second, retry.delay)
	retry.fn()

	rec.waitFor(t, isState(StateOpen))
	assert.Equal(t, 2, srv.Dials())

	require.Eventually(t, func() bool { return srv.OpenStreams() == 1 }, waitTimeout, 10*time.Millisecond)
	srv.Publish("Chapter 2 released")
	require.Eventually(t, func() bool { return len(rec.notifications()) == 2 }, waitTimeout, 10*time.Millisecond)
}

func TestConnection_AuthFailureBacksOff(t *testing.T) {
	srv := testutil.NewServer(t)
	client := api.NewClient(srv.Config(), api.Credentials{}, zaptest.NewLogger(t))

	sched := newFakeScheduler()
	rec := newRecorder()
	conn := New(client, client, rec.options(t, sched))
	defer conn.Close()

	conn.Connect()
	st := rec.waitFor(t, isState(StateClosed))
	assert.True(t, api.IsAuthError(st.Err))
	assert.Equal(t, 5*time.Second, sched.next(t).delay)
}

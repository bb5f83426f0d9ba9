package subscription_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	"github.com/rbccps-iisc/ideam-go/pkg/gateway"
	plog "github.com/rbccps-iisc/ideam-go/pkg/log"
	"github.com/rbccps-iisc/ideam-go/pkg/stream"
	"github.com/rbccps-iisc/ideam-go/pkg/subscription"
	"github.com/rbccps-iisc/ideam-go/pkg/subscription/mocks"
)

const waitFor = 2 * time.Second

var bindOK = gateway.Result{Status: gateway.StatusSuccess, Message: "bind queue ok"}

// feed is a fake subscribe endpoint. Each message sent on next becomes one
// flushed chunk; closing next ends the response on every open stream.
type feed struct {
	srv  *httptest.Server
	next chan string
	hits atomic.Int32
	open atomic.Int32
}

func newFeed(t *testing.T) *feed {
	t.Helper()
	f := &feed{next: make(chan string)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.open.Add(1)
		defer f.open.Add(-1)

		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case msg, ok := <-f.next:
				if !ok {
					return
				}
				_, _ = w.Write([]byte(msg))
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newIdentity(t *testing.T, baseURL, key string) *entity.Identity {
	t.Helper()
	id, err := entity.NewIdentity("sensor-01", "owner-key")
	require.NoError(t, err)
	require.NoError(t, id.SetBaseURL(baseURL))
	if key != "" {
		require.NoError(t, id.SetEntityAPIKey(key))
	}
	return id
}

func newController(t *testing.T, baseURL string, binder subscription.Binder, mutate ...func(*subscription.Config)) *subscription.Controller {
	t.Helper()
	cfg := subscription.DefaultConfig()
	cfg.Identity = newIdentity(t, baseURL, "K1")
	cfg.Binder = binder
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := subscription.NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func expectBind(t *testing.T, keys []string) *mocks.MockBinder {
	t.Helper()
	binder := mocks.NewMockBinder(t)
	binder.EXPECT().Bind(mock.Anything, keys).Return(bindOK, nil)
	return binder
}

func waitLatest(t *testing.T, c *subscription.Controller, text string) stream.Chunk {
	t.Helper()
	var got stream.Chunk
	require.Eventually(t, func() bool {
		chunk, ok := c.Latest()
		if ok && chunk.Text() == text {
			got = chunk
			return true
		}
		return false
	}, waitFor, 5*time.Millisecond, "latest never became %q", text)
	return got
}

func waitState(t *testing.T, c *subscription.Controller, want subscription.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		waitFor, 5*time.Millisecond, "state never became %s (is %s)", want, c.State())
}

func waitDone(t *testing.T, c *subscription.Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("stream goroutine did not exit")
	}
}

func TestNewControllerValidation(t *testing.T) {
	_, err := subscription.NewController(subscription.Config{})
	assert.ErrorIs(t, err, subscription.ErrNoIdentity)

	id, _ := entity.NewIdentity("sensor-01", "owner")
	_, err = subscription.NewController(subscription.Config{Identity: id})
	assert.ErrorIs(t, err, subscription.ErrNoBinder)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state subscription.State
		want  string
	}{
		{subscription.StateIdle, "IDLE"},
		{subscription.StateRunning, "RUNNING"},
		{subscription.StateStopping, "STOPPING"},
		{subscription.StateStopped, "STOPPED"},
		{subscription.StateFailed, "FAILED"},
		{subscription.State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	c := newController(t, "http://127.0.0.1:1", mocks.NewMockBinder(t))

	assert.NoError(t, c.Stop())
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.Empty(t, c.HandleID())

	_, ok := c.Latest()
	assert.False(t, ok)

	select {
	case <-c.Done():
	default:
		t.Error("Done() should be closed before the first Start")
	}
}

func TestStartWithoutKeyDoesNotBind(t *testing.T) {
	f := newFeed(t)
	binder := mocks.NewMockBinder(t)

	cfg := subscription.DefaultConfig()
	cfg.Identity = newIdentity(t, f.srv.URL, "")
	cfg.Binder = binder
	c, err := subscription.NewController(cfg)
	require.NoError(t, err)

	err = c.Start(context.Background(), []string{"dev-a"})
	assert.ErrorIs(t, err, apierr.ErrAuthNotReady)
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestStartFailsWhenBindFails(t *testing.T) {
	f := newFeed(t)
	bindErr := &apierr.Error{Kind: apierr.KindProtocol, Op: "bind", Message: "exchange not found"}
	binder := mocks.NewMockBinder(t)
	binder.EXPECT().Bind(mock.Anything, []string{"dev-a"}).
		Return(gateway.Result{Status: gateway.StatusFailure, Message: bindErr.Error()}, bindErr)

	c := newController(t, f.srv.URL, binder)

	err := c.Start(context.Background(), []string{"dev-a"})
	assert.ErrorIs(t, err, bindErr)
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.Equal(t, int32(0), f.hits.Load(), "no stream after a failed bind")
}

func TestHelloWorldEndToEnd(t *testing.T) {
	f := newFeed(t)
	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}))

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	assert.Equal(t, subscription.StateRunning, c.State())
	assert.NotEmpty(t, c.HandleID())

	f.next <- "hello"
	first := waitLatest(t, c, "hello")
	f.next <- "world"
	second := waitLatest(t, c, "world")
	close(f.next)

	waitDone(t, c)
	assert.Equal(t, subscription.StateStopped, c.State())
	assert.NoError(t, c.Err())

	got, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "world", got.Text())
	assert.GreaterOrEqual(t, second.ReceivedAtMillis(), first.ReceivedAtMillis())
}

func TestStartTwiceFailsWithAlreadySubscribed(t *testing.T) {
	f := newFeed(t)
	binder := mocks.NewMockBinder(t)
	binder.EXPECT().Bind(mock.Anything, mock.Anything).Return(bindOK, nil).Times(2)

	c := newController(t, f.srv.URL, binder)

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "x"
	waitLatest(t, c, "x")
	id := c.HandleID()

	err := c.Start(context.Background(), []string{"dev-b"})
	assert.ErrorIs(t, err, apierr.ErrAlreadySubscribed)
	assert.Equal(t, subscription.StateRunning, c.State())
	assert.Equal(t, id, c.HandleID(), "the running handle is kept")
	assert.Equal(t, int32(1), f.hits.Load(), "exactly one stream")
	assert.Equal(t, int32(1), f.open.Load())
}

func TestStopCancelsRunningStream(t *testing.T) {
	f := newFeed(t)
	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}))

	var transitions []string
	var mu sync.Mutex
	c.OnStateChange(func(old, next subscription.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, old.String()+"->"+next.String())
	})

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "hello"
	waitLatest(t, c, "hello")

	start := time.Now()
	require.NoError(t, c.Stop())
	assert.Less(t, time.Since(start), time.Second, "stop must not wait for the next chunk")
	assert.Equal(t, subscription.StateStopped, c.State())
	assert.NoError(t, c.Err())

	select {
	case <-c.Done():
	default:
		t.Error("Stop returned before the stream goroutine exited")
	}
	require.Eventually(t, func() bool { return f.open.Load() == 0 }, waitFor, 5*time.Millisecond,
		"server still sees an open stream")

	// The final callback runs on the stream goroutine after Done is closed.
	want := []string{"IDLE->RUNNING", "RUNNING->STOPPING", "STOPPING->STOPPED"}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(want, transitions)
	}, waitFor, 5*time.Millisecond)

	got, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text())
}

func TestStopTwiceIsIdempotent(t *testing.T) {
	f := newFeed(t)
	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}))

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	require.NoError(t, c.Stop())
	assert.Equal(t, subscription.StateStopped, c.State())

	start := time.Now()
	require.NoError(t, c.Stop())
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, subscription.StateStopped, c.State())
}

func TestConcurrentStops(t *testing.T) {
	f := newFeed(t)
	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}))
	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Stop())
		}()
	}
	wg.Wait()

	assert.Equal(t, subscription.StateStopped, c.State())
	waitDone(t, c)
}

func TestRestartAfterStop(t *testing.T) {
	f := newFeed(t)
	binder := mocks.NewMockBinder(t)
	binder.EXPECT().Bind(mock.Anything, []string{"dev-a"}).Return(bindOK, nil).Times(2)
	c := newController(t, f.srv.URL, binder)

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "first"
	waitLatest(t, c, "first")
	firstID := c.HandleID()
	require.NoError(t, c.Stop())

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	assert.NotEqual(t, firstID, c.HandleID())
	assert.Equal(t, subscription.StateRunning, c.State())

	got, _ := c.Latest()
	assert.Equal(t, "first", got.Text(), "latest survives a restart until a new chunk arrives")

	f.next <- "second"
	waitLatest(t, c, "second")
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestConnectionResetLeavesFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	reset := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n"))
		<-reset
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
	}()

	c := newController(t, "http://"+ln.Addr().String(), expectBind(t, []string{"dev-a"}))
	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))

	waitLatest(t, c, "hello")
	close(reset)

	waitDone(t, c)
	assert.Equal(t, subscription.StateFailed, c.State())
	assert.ErrorIs(t, c.Err(), apierr.ErrNetwork)

	got, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text())

	// Stop on a failed controller is a no-op and keeps the error.
	require.NoError(t, c.Stop())
	assert.Equal(t, subscription.StateFailed, c.State())
}

func TestAuthRejectedStreamFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "No API key found in request"}`))
	}))
	defer srv.Close()

	c := newController(t, srv.URL, expectBind(t, []string{"dev-a"}))
	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))

	waitDone(t, c)
	assert.Equal(t, subscription.StateFailed, c.State())
	assert.ErrorIs(t, c.Err(), apierr.ErrAuthRejected)
}

func TestStopAbandonsStuckGoroutineAfterGrace(t *testing.T) {
	f := newFeed(t)
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}), func(cfg *subscription.Config) {
		cfg.GracePeriod = 100 * time.Millisecond
		cfg.OnChunk = func(stream.Chunk) { <-release }
	})

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "stuck"
	waitLatest(t, c, "stuck")

	start := time.Now()
	require.NoError(t, c.Stop())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, subscription.StateStopped, c.State())

	// The abandoned goroutine exits once unblocked, without changing state.
	unblock()
	waitDone(t, c)
	assert.Equal(t, subscription.StateStopped, c.State())
	assert.NoError(t, c.Err())
}

func TestAbandonedStreamCannotOverwriteRestartedOne(t *testing.T) {
	f := newFeed(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	binder := mocks.NewMockBinder(t)
	binder.EXPECT().Bind(mock.Anything, mock.Anything).Return(bindOK, nil).Times(2)
	c := newController(t, f.srv.URL, binder, func(cfg *subscription.Config) {
		cfg.GracePeriod = 50 * time.Millisecond
		cfg.Decoder = func(raw []byte) ([]byte, error) {
			if string(raw) == "old" {
				close(entered)
				<-release
			}
			return raw, nil
		}
	})

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "old"
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("decoder never saw the first chunk")
	}

	require.NoError(t, c.Stop())
	assert.Equal(t, subscription.StateStopped, c.State())
	abandoned := c.Done()

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	require.Eventually(t, func() bool { return f.hits.Load() == 2 && f.open.Load() == 1 },
		waitFor, 5*time.Millisecond, "old stream was not torn down")
	f.next <- "new"
	waitLatest(t, c, "new")

	// The abandoned goroutine finishes decoding "old" only now.
	unblock()
	select {
	case <-abandoned:
	case <-time.After(waitFor):
		t.Fatal("abandoned goroutine did not exit")
	}

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "new", latest.Text())
	assert.Equal(t, subscription.StateRunning, c.State())
}

func TestStartWhileStoppingFails(t *testing.T) {
	f := newFeed(t)
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	binder := mocks.NewMockBinder(t)
	binder.EXPECT().Bind(mock.Anything, mock.Anything).Return(bindOK, nil).Times(2)
	c := newController(t, f.srv.URL, binder, func(cfg *subscription.Config) {
		cfg.OnChunk = func(stream.Chunk) { <-release }
	})

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "stuck"
	waitLatest(t, c, "stuck")

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	waitState(t, c, subscription.StateStopping)

	err := c.Start(context.Background(), []string{"dev-a"})
	assert.ErrorIs(t, err, subscription.ErrStopInProgress)

	unblock()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, subscription.StateStopped, c.State())
}

func TestCloseRejectsStart(t *testing.T) {
	f := newFeed(t)
	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}))

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	require.NoError(t, c.Close())
	assert.Equal(t, subscription.StateStopped, c.State())

	err := c.Start(context.Background(), []string{"dev-a"})
	assert.True(t, errors.Is(err, subscription.ErrClosed))
}

type eventRecorder struct {
	mu     sync.Mutex
	events []plog.Event
}

func (r *eventRecorder) Log(e plog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) subscriptionStates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Layer == plog.LayerController && e.StateChange != nil {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

func TestProtocolLogRecordsLifecycle(t *testing.T) {
	f := newFeed(t)
	recorder := &eventRecorder{}
	c := newController(t, f.srv.URL, expectBind(t, []string{"dev-a"}), func(cfg *subscription.Config) {
		cfg.ProtocolLogger = recorder
	})

	require.NoError(t, c.Start(context.Background(), []string{"dev-a"}))
	f.next <- "hello"
	waitLatest(t, c, "hello")
	require.NoError(t, c.Stop())

	assert.Equal(t, []string{"RUNNING", "STOPPING", "STOPPED"}, recorder.subscriptionStates())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	var sawChunk bool
	for _, e := range recorder.events {
		assert.Equal(t, c.HandleID(), e.StreamID, "every event carries the handle ID")
		if e.Chunk != nil && string(e.Chunk.Data) == "hello" {
			sawChunk = true
		}
	}
	assert.True(t, sawChunk)
}

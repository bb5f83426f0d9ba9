package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	plog "github.com/rbccps-iisc/ideam-go/pkg/log"
	"github.com/rbccps-iisc/ideam-go/pkg/stream"
	"github.com/rbccps-iisc/ideam-go/pkg/transport"
)

const opSubscribe = "subscribe"

// handle is one started stream.
type handle struct {
	id     string
	sub    *stream.Subscriber
	cancel context.CancelFunc
	done   chan struct{}

	// abandoned is set when Stop gave up waiting; the goroutine then
	// exits without touching controller state. Guarded by Controller.mu.
	abandoned bool
}

// Controller runs and stops the subscribe stream of one entity.
type Controller struct {
	identity   *entity.Identity
	binder     Binder
	httpClient *http.Client
	grace      time.Duration
	decoder    stream.Decoder
	onChunk    func(stream.Chunk)
	baseLogger *slog.Logger
	logger     *slog.Logger
	plog       plog.Logger
	now        func() time.Time

	cell stream.Cell

	mu            sync.Mutex
	state         State
	current       *handle
	err           error
	closed        bool
	onStateChange func(old, new State)
}

// NewController creates a controller in the Idle state.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Identity == nil {
		return nil, ErrNoIdentity
	}
	if cfg.Binder == nil {
		return nil, ErrNoBinder
	}

	c := &Controller{
		identity:   cfg.Identity,
		binder:     cfg.Binder,
		httpClient: cfg.HTTPClient,
		grace:      cfg.GracePeriod,
		decoder:    cfg.Decoder,
		onChunk:    cfg.OnChunk,
		baseLogger: cfg.Logger,
		plog:       plog.OrNoop(cfg.ProtocolLogger),
		now:        cfg.Now,
	}
	if c.httpClient == nil {
		c.httpClient = transport.NewStreamClient(cfg.Transport)
	}
	if c.grace <= 0 {
		c.grace = DefaultGracePeriod
	}
	if c.baseLogger == nil {
		c.baseLogger = slog.Default()
	}
	c.logger = c.baseLogger.With("entity_id", c.identity.EntityID())
	return c, nil
}

// OnStateChange sets a callback invoked after every state transition.
// It is called without the controller lock held.
func (c *Controller) OnStateChange(fn func(old, new State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller to Failed, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// HandleID returns the ID of the most recently started stream, or "" if
// none was started.
func (c *Controller) HandleID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}

// Done returns a channel closed when the most recently started stream
// goroutine exits. Before the first Start it returns a closed channel.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.current.done
}

// Latest returns the most recent chunk received by any stream of this
// controller, or false if none has arrived.
func (c *Controller) Latest() (stream.Chunk, bool) {
	return c.cell.Read()
}

// Start binds keys and starts a stream. ctx bounds the bind call only;
// the stream runs until Stop, Close, or its own end.
func (c *Controller) Start(ctx context.Context, keys []string) error {
	if _, err := c.identity.RequireEntityKey(opSubscribe); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}

	if _, err := c.binder.Bind(ctx, keys); err != nil {
		c.logger.Warn("bind before subscribe failed", "keys", keys, "error", err)
		return err
	}

	c.mu.Lock()
	if err := c.checkStartLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	h := &handle{id: uuid.NewString(), done: make(chan struct{})}
	sub, err := stream.NewSubscriber(stream.Config{
		Identity:       c.identity,
		Cell:           &c.cell,
		HTTPClient:     c.httpClient,
		Decoder:        c.decoder,
		OnChunk:        c.onChunk,
		StreamID:       h.id,
		Logger:         c.baseLogger,
		ProtocolLogger: c.plog,
		Now:            c.now,
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("subscription: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h.sub, h.cancel = sub, cancel
	c.current = h
	c.err = nil
	old, cb := c.setStateLocked(StateRunning, "started")
	c.mu.Unlock()

	c.logger.Info("subscription started", "handle_id", h.id, "keys", keys)
	notify(cb, old, StateRunning)

	go c.run(runCtx, h)
	return nil
}

func (c *Controller) checkStartLocked() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.state == StateRunning:
		return apierr.New(apierr.KindAlreadySubscribed, opSubscribe, "subscription "+c.current.id+" is running")
	case c.state == StateStopping:
		return ErrStopInProgress
	case !c.state.canStart():
		return fmt.Errorf("subscription: cannot start from %s", c.state)
	}
	return nil
}

// run is the stream goroutine.
func (c *Controller) run(ctx context.Context, h *handle) {
	err := h.sub.Run(ctx)
	h.cancel()

	c.mu.Lock()
	if c.current != h || h.abandoned {
		close(h.done)
		c.mu.Unlock()
		return
	}

	next, reason := StateStopped, "end of stream"
	switch {
	case c.state == StateStopping:
		reason = "stopped"
	case apierr.KindOf(err) == apierr.KindCancelled:
		reason = "cancelled"
	case err != nil:
		next, reason = StateFailed, err.Error()
		c.err = err
	}
	old, cb := c.setStateLocked(next, reason)
	close(h.done)
	c.mu.Unlock()

	if next == StateFailed {
		c.logger.Warn("subscription failed", "handle_id", h.id, "error", err)
	} else {
		c.logger.Info("subscription ended", "handle_id", h.id, "reason", reason)
	}
	notify(cb, old, next)
}

// Stop cancels the running stream and waits for it to finish, at most
// for the grace period. It returns nil in every state and is safe to call
// concurrently and repeatedly.
func (c *Controller) Stop() error {
	c.mu.Lock()
	h := c.current
	switch c.state {
	case StateRunning:
		old, cb := c.setStateLocked(StateStopping, "stop requested")
		h.cancel()
		c.mu.Unlock()
		notify(cb, old, StateStopping)
	case StateStopping:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return nil
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}

	// The goroutine is stuck outside the read loop; the connection is
	// all that can be reclaimed.
	_ = h.sub.Close()

	c.mu.Lock()
	if c.current != h || h.abandoned || c.state != StateStopping {
		c.mu.Unlock()
		return nil
	}
	h.abandoned = true
	old, cb := c.setStateLocked(StateStopped, "grace period expired")
	c.mu.Unlock()

	c.logger.Warn("stream goroutine did not exit within grace period, abandoning it",
		"handle_id", h.id, "grace", c.grace)
	notify(cb, old, StateStopped)
	return nil
}

// Close stops the subscription and rejects further Starts.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Stop()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setStateLocked changes state, records the transition in the protocol
// log and returns the previous state and the callback to invoke once the
// lock is released.
func (c *Controller) setStateLocked(next State, reason string) (State, func(old, new State)) {
	old := c.state
	c.state = next

	event := plog.Event{
		Timestamp: time.Now(),
		EntityID:  c.identity.EntityID(),
		Layer:     plog.LayerController,
		Category:  plog.CategoryState,
		StateChange: &plog.StateChangeEvent{
			Entity:   plog.StateEntitySubscription,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	}
	if c.current != nil {
		event.StreamID = c.current.id
	}
	c.plog.Log(event)

	return old, c.onStateChange
}

func notify(cb func(old, new State), old, next State) {
	if cb != nil && old != next {
		cb(old, next)
	}
}

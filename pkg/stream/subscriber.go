package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	plog "github.com/rbccps-iisc/ideam-go/pkg/log"
	"github.com/rbccps-iisc/ideam-go/pkg/transport"
	"github.com/rbccps-iisc/ideam-go/pkg/version"
)

// SubscribePath is the subscribe endpoint, relative to the base URL.
const SubscribePath = "api/" + version.API + "/subscribe"

// MaxChunkSize bounds a single read from the stream. A chunk larger than
// this arrives as several consecutive chunks.
const MaxChunkSize = 64 * 1024

// maxErrorBody bounds how much of a non-2xx response is read.
const maxErrorBody = 4096

const opSubscribe = "subscribe"

// Stream states reported in the protocol log.
const (
	streamConnecting = "CONNECTING"
	streamOpen       = "OPEN"
	streamClosed     = "CLOSED"
)

// Subscriber errors.
var (
	ErrAlreadyRun  = errors.New("subscriber already run")
	ErrNoIdentity  = errors.New("identity is required")
	noAPIKeyMarker = []byte("No API key")
)

// Config configures a Subscriber.
type Config struct {
	// Identity supplies the base URL, entity ID and entity key. Required.
	Identity *entity.Identity

	// Cell receives every decoded chunk. A new Cell is used if nil.
	Cell *Cell

	// HTTPClient performs the request. If nil, a stream client is built
	// from Transport.
	HTTPClient *http.Client

	// Transport configures the client built when HTTPClient is nil.
	Transport transport.Config

	// Decoder validates each chunk (default: DecodeUTF8).
	Decoder Decoder

	// OnChunk is called after each chunk is published, on the stream goroutine.
	OnChunk func(Chunk)

	// StreamID tags protocol log events.
	StreamID string

	// Logger is used for operational logging (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives stream events (optional).
	ProtocolLogger plog.Logger

	// Now returns the receive time of a chunk (default: time.Now).
	Now func() time.Time
}

// Subscriber runs one subscribe stream.
type Subscriber struct {
	identity *entity.Identity
	cell     *Cell
	client   *http.Client
	decoder  Decoder
	onChunk  func(Chunk)
	streamID string
	logger   *slog.Logger
	plog     plog.Logger
	now      func() time.Time

	started atomic.Bool
	seq     uint64

	mu     sync.Mutex
	body   io.Closer
	cancel context.CancelFunc
	closed bool
}

// NewSubscriber creates a subscriber. The stream is not opened until Run.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	if cfg.Identity == nil {
		return nil, ErrNoIdentity
	}

	s := &Subscriber{
		identity: cfg.Identity,
		cell:     cfg.Cell,
		client:   cfg.HTTPClient,
		decoder:  cfg.Decoder,
		onChunk:  cfg.OnChunk,
		streamID: cfg.StreamID,
		logger:   cfg.Logger,
		plog:     plog.OrNoop(cfg.ProtocolLogger),
		now:      cfg.Now,
	}
	if s.cell == nil {
		s.cell = &Cell{}
	}
	if s.client == nil {
		s.client = transport.NewStreamClient(cfg.Transport)
	}
	if s.decoder == nil {
		s.decoder = DecodeUTF8
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = s.logger.With("entity_id", s.identity.EntityID())
	if s.streamID != "" {
		s.logger = s.logger.With("stream_id", s.streamID)
	}
	return s, nil
}

// Cell returns the cell chunks are published into.
func (s *Subscriber) Cell() *Cell {
	return s.cell
}

// Latest returns the most recent chunk, or false if none has arrived.
func (s *Subscriber) Latest() (Chunk, bool) {
	return s.cell.Read()
}

// Run opens the stream and consumes it until it ends, fails, or ctx is
// cancelled. It blocks for the lifetime of the stream and can be called
// only once.
func (s *Subscriber) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	key, err := s.identity.RequireEntityKey(opSubscribe)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.setCancel(cancel) {
		return apierr.New(apierr.KindCancelled, opSubscribe, "closed before start")
	}

	endpoint := s.identity.Endpoint(SubscribePath) + "?name=" + url.QueryEscape(s.identity.EntityID())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindProtocol, opSubscribe, err)
	}
	req.Header.Set("apikey", key)

	s.logEvent(plog.LayerStream, plog.CategoryState, func(e *plog.Event) {
		e.RemoteAddr = req.URL.Host
		e.StateChange = &plog.StateChangeEvent{Entity: plog.StateEntityStream, NewState: streamConnecting}
	})
	s.logger.Debug("opening stream", "url", req.URL.Redacted())

	resp, err := s.client.Do(req)
	if err != nil {
		return s.finish(s.classify(ctx, err, "connect"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return s.finish(statusError(resp))
	}

	// The body is closed as soon as ctx is done so a blocked Read returns
	// at once instead of waiting for the next chunk.
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()
	s.setBody(resp.Body)

	s.stateChange(streamConnecting, streamOpen, "")
	s.logger.Info("stream open")

	buf := make([]byte, MaxChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			s.handleChunk(buf[:n])
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			s.stateChange(streamOpen, streamClosed, "end of stream")
			s.logger.Info("stream ended by server", "chunks", s.seq)
			return nil
		}
		return s.finish(s.classify(ctx, readErr, "read chunk"))
	}
}

// Close force-closes the stream from another goroutine. A blocked Run
// returns a Cancelled error. Close before Run makes Run fail immediately.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

func (s *Subscriber) setCancel(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *Subscriber) setBody(body io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscriber) handleChunk(raw []byte) {
	s.seq++
	event := plog.NewChunkEvent(s.seq, raw)

	payload, err := s.decoder(raw)
	if err != nil {
		event.Skipped = true
		s.logEvent(plog.LayerTransport, plog.CategoryChunk, func(e *plog.Event) { e.Chunk = event })
		s.logger.Warn("skipping undecodable chunk", "seq", s.seq, "size", len(raw), "error", err)
		return
	}

	chunk := NewChunk(payload, s.now())

	// Once Close returns, a late chunk from this subscriber must not
	// overwrite the cell, which may already belong to a newer stream.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("dropping chunk decoded after close", "seq", s.seq)
		return
	}
	s.cell.Publish(chunk)
	s.mu.Unlock()

	s.logEvent(plog.LayerTransport, plog.CategoryChunk, func(e *plog.Event) { e.Chunk = event })

	if s.onChunk != nil {
		s.onChunk(chunk)
	}
}

// classify maps a transport error to an apierr kind. Errors caused by our
// own cancellation are Cancelled regardless of how they surface.
func (s *Subscriber) classify(ctx context.Context, err error, during string) error {
	if ctx.Err() != nil || s.isClosed() {
		return &apierr.Error{Kind: apierr.KindCancelled, Op: opSubscribe, Message: "stream stopped", Err: err}
	}
	if transport.IsTimeout(err) {
		return &apierr.Error{Kind: apierr.KindNetwork, Op: opSubscribe, Message: during + ": timeout", Err: err}
	}
	return &apierr.Error{Kind: apierr.KindNetwork, Op: opSubscribe, Message: fmt.Sprintf("%s: %v", during, err), Err: err}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := string(bytes.TrimSpace(body))
	if msg == "" {
		msg = resp.Status
	}

	kind := apierr.KindProtocol
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		bytes.Contains(body, noAPIKeyMarker) {
		kind = apierr.KindAuthRejected
	}
	return &apierr.Error{Kind: kind, Op: opSubscribe, Message: msg, StatusCode: resp.StatusCode}
}

// finish records a terminal error in the logs and returns it.
func (s *Subscriber) finish(err error) error {
	kind := apierr.KindOf(err)
	if kind == apierr.KindCancelled {
		s.stateChange("", streamClosed, "cancelled")
		s.logger.Info("stream cancelled", "chunks", s.seq)
		return err
	}

	s.logEvent(plog.LayerStream, plog.CategoryError, func(e *plog.Event) {
		e.Error = &plog.ErrorEventData{
			Layer:   plog.LayerStream,
			Message: err.Error(),
			Kind:    kind.String(),
		}
	})
	s.stateChange("", streamClosed, kind.String())
	s.logger.Warn("stream failed", "error", err, "chunks", s.seq)
	return err
}

func (s *Subscriber) stateChange(from, to, reason string) {
	s.logEvent(plog.LayerStream, plog.CategoryState, func(e *plog.Event) {
		e.StateChange = &plog.StateChangeEvent{
			Entity:   plog.StateEntityStream,
			OldState: from,
			NewState: to,
			Reason:   reason,
		}
	})
}

func (s *Subscriber) logEvent(layer plog.Layer, category plog.Category, fill func(*plog.Event)) {
	event := plog.Event{
		Timestamp: time.Now(),
		StreamID:  s.streamID,
		EntityID:  s.identity.EntityID(),
		Layer:     layer,
		Category:  category,
	}
	fill(&event)
	s.plog.Log(event)
}

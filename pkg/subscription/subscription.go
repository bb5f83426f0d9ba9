package subscription

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	"github.com/rbccps-iisc/ideam-go/pkg/gateway"
	plog "github.com/rbccps-iisc/ideam-go/pkg/log"
	"github.com/rbccps-iisc/ideam-go/pkg/stream"
	"github.com/rbccps-iisc/ideam-go/pkg/transport"
)

// Controller errors.
var (
	ErrStopInProgress = errors.New("subscription: stop in progress")
	ErrClosed         = errors.New("subscription: controller closed")
	ErrNoIdentity     = errors.New("subscription: Identity is required")
	ErrNoBinder       = errors.New("subscription: Binder is required")
)

// DefaultGracePeriod bounds how long Stop waits for the stream goroutine.
const DefaultGracePeriod = 5 * time.Second

// State is the state of a controller's subscription.
type State uint8

const (
	// StateIdle indicates no subscription was ever started.
	StateIdle State = iota

	// StateRunning indicates a stream goroutine is active.
	StateRunning

	// StateStopping indicates Stop is waiting for the stream goroutine.
	StateStopping

	// StateStopped indicates the stream was stopped or ended cleanly.
	StateStopped

	// StateFailed indicates the stream ended with an error; see Err.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// canStart reports whether Start may move a controller in s to Running.
func (s State) canStart() bool {
	return s == StateIdle || s == StateStopped || s == StateFailed
}

//go:generate go run github.com/vektra/mockery/v2 --config ../../.mockery.yaml

// Binder binds device keys to the entity's queue. *gateway.Client
// implements it.
type Binder interface {
	Bind(ctx context.Context, keys []string) (gateway.Result, error)
}

var _ Binder = (*gateway.Client)(nil)

// Config configures a Controller.
type Config struct {
	// Identity supplies base URL, entity ID and entity key. Required.
	Identity *entity.Identity

	// Binder performs the bind call that precedes every stream. Required.
	Binder Binder

	// HTTPClient is shared by all streams. If nil, a stream client is
	// built from Transport.
	HTTPClient *http.Client

	// Transport configures the client built when HTTPClient is nil.
	Transport transport.Config

	// GracePeriod bounds how long Stop waits (default: 5s).
	GracePeriod time.Duration

	// Decoder validates each chunk (default: stream.DecodeUTF8).
	Decoder stream.Decoder

	// OnChunk is called on the stream goroutine after each chunk.
	OnChunk func(stream.Chunk)

	// Logger is used for operational logging (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives stream and lifecycle events (optional).
	ProtocolLogger plog.Logger

	// Now stamps received chunks (default: time.Now).
	Now func() time.Time
}

// DefaultConfig returns a configuration with default timeouts. Identity
// and Binder must still be set.
func DefaultConfig() Config {
	return Config{
		Transport:   transport.DefaultConfig(),
		GracePeriod: DefaultGracePeriod,
	}
}

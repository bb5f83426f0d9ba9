package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rbccps-iisc/ideam-go/cmd/ideam/interactive"
	"github.com/rbccps-iisc/ideam-go/pkg/config"
	"github.com/rbccps-iisc/ideam-go/pkg/discovery"
	"github.com/rbccps-iisc/ideam-go/pkg/entity"
	"github.com/rbccps-iisc/ideam-go/pkg/gateway"
	"github.com/rbccps-iisc/ideam-go/pkg/log"
	"github.com/rbccps-iisc/ideam-go/pkg/persistence"
	"github.com/rbccps-iisc/ideam-go/pkg/stream"
	"github.com/rbccps-iisc/ideam-go/pkg/subscription"
)

// session owns everything one entity needs for a CLI run: identity,
// persisted credentials, the gateway client and the subscription
// controller. It implements interactive.Session.
type session struct {
	cfg      config.Config
	identity *entity.Identity
	bound    *entity.KeySet
	client   *gateway.Client
	ctrl     *subscription.Controller
	store    *persistence.CredentialStore
	logger   *slog.Logger

	protoFile *log.FileLogger

	mu           sync.RWMutex
	onChunk      func(stream.Chunk)
	registeredAt time.Time
}

// sessionOptions are the per-run settings that are not part of config.Config.
type sessionOptions struct {
	// Discover replaces the base URL with the first gateway found via mDNS.
	Discover bool

	// Interface restricts mDNS to one network interface.
	Interface string

	// Browser is used when Discover is set (default: mDNS).
	Browser discovery.Browser
}

// newSession builds a session from cfg. Saved credentials are restored
// after discovery, so a discovered base URL wins over a saved one.
func newSession(ctx context.Context, cfg config.Config, opts sessionOptions, logger *slog.Logger) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	identity, err := cfg.Identity()
	if err != nil {
		return nil, err
	}

	if opts.Discover {
		if err := discoverBaseURL(ctx, identity, opts, logger); err != nil {
			return nil, err
		}
	}

	s := &session{
		cfg:      cfg,
		identity: identity,
		bound:    entity.NewKeySet(),
		logger:   logger,
	}

	if cfg.StateFile != "" {
		s.store = persistence.NewCredentialStore(cfg.StateFile)
		saved, err := s.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if saved != nil {
			if err := saved.Apply(identity, s.bound); err != nil {
				return nil, fmt.Errorf("restore state: %w", err)
			}
			s.registeredAt = saved.RegisteredAt
			logger.Debug("restored state", "path", s.store.Path(), "bound", s.bound.Len(), "has_key", identity.HasEntityAPIKey())
		}
	}

	s.client, err = gateway.NewClient(gateway.ClientConfig{
		Identity:  identity,
		BoundKeys: s.bound,
		Transport: cfg.Transport(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	protocolLogger, err := s.openProtocolLog()
	if err != nil {
		return nil, err
	}

	ctrlCfg := subscription.DefaultConfig()
	ctrlCfg.Identity = identity
	ctrlCfg.Binder = s.client
	ctrlCfg.Transport = cfg.Transport()
	ctrlCfg.GracePeriod = cfg.GracePeriod
	ctrlCfg.OnChunk = s.dispatchChunk
	ctrlCfg.Logger = logger
	ctrlCfg.ProtocolLogger = protocolLogger

	s.ctrl, err = subscription.NewController(ctrlCfg)
	if err != nil {
		s.closeProtocolLog()
		return nil, err
	}
	s.ctrl.OnStateChange(func(old, new subscription.State) {
		logger.Debug("subscription state", "old", old.String(), "new", new.String())
	})

	return s, nil
}

// openProtocolLog returns the stream event sink: the slog adapter, plus a
// capture file when protocol_log is configured.
func (s *session) openProtocolLog() (log.Logger, error) {
	adapter := log.NewSlogAdapter(s.logger)
	if s.cfg.ProtocolLog == "" {
		return adapter, nil
	}

	file, err := log.NewFileLogger(s.cfg.ProtocolLog)
	if err != nil {
		return nil, fmt.Errorf("open protocol log: %w", err)
	}
	s.protoFile = file
	s.logger.Info("protocol logging enabled", "path", file.Path())
	return log.NewMultiLogger(file, adapter), nil
}

func (s *session) closeProtocolLog() {
	if s.protoFile == nil {
		return
	}
	written, failed := s.protoFile.Stats()
	if err := s.protoFile.Close(); err != nil {
		s.logger.Warn("closing protocol log", "error", err)
	}
	s.logger.Debug("protocol log closed", "written", written, "failed", failed)
}

// discoverBaseURL points identity at the first gateway found on the LAN.
func discoverBaseURL(ctx context.Context, identity *entity.Identity, opts sessionOptions, logger *slog.Logger) error {
	browser := opts.Browser
	if browser == nil {
		bcfg := discovery.DefaultBrowserConfig()
		bcfg.Interface = opts.Interface
		bcfg.Logger = logger
		browser = discovery.NewMDNSBrowser(bcfg)
	}
	defer browser.Stop()

	gw, err := browser.Find(ctx)
	if err != nil {
		return fmt.Errorf("discover gateway: %w", err)
	}
	base, err := gw.BaseURL()
	if err != nil {
		return fmt.Errorf("discover gateway %q: %w", gw.InstanceName, err)
	}
	logger.Info("discovered gateway", "instance", gw.InstanceName, "base_url", base)
	return identity.SetBaseURL(base)
}

// save persists the entity key and bound keys. Without a state file it
// does nothing.
func (s *session) save() {
	if s.store == nil {
		return
	}
	snap := persistence.Snapshot(s.identity, s.bound)
	s.mu.RLock()
	snap.RegisteredAt = s.registeredAt
	s.mu.RUnlock()
	if err := s.store.Save(snap); err != nil {
		s.logger.Warn("failed to save state", "path", s.store.Path(), "error", err)
	}
}

// SetChunkHandler installs fn to receive every chunk; nil removes it.
func (s *session) SetChunkHandler(fn func(stream.Chunk)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

func (s *session) dispatchChunk(c stream.Chunk) {
	s.mu.RLock()
	fn := s.onChunk
	s.mu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

// Register obtains and stores the entity key.
func (s *session) Register(ctx context.Context) (string, error) {
	if s.identity.HasEntityAPIKey() {
		return "", fmt.Errorf("entity %q already has an API key", s.identity.EntityID())
	}
	reg, err := s.client.Register(ctx)
	if err != nil {
		return "", err
	}
	if err := s.identity.SetEntityAPIKey(reg.APIKey); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.registeredAt = time.Now()
	s.mu.Unlock()
	s.save()
	return reg.APIKey, nil
}

// Publish sends data under the entity's own key.
func (s *session) Publish(ctx context.Context, data string) (gateway.Result, error) {
	return s.client.Publish(ctx, data)
}

// Bind adds keys to the entity's queue and persists the bound set.
func (s *session) Bind(ctx context.Context, keys []string) (gateway.Result, error) {
	res, err := s.client.Bind(ctx, keys)
	if err == nil {
		s.save()
	}
	return res, err
}

// Unbind removes keys from the entity's queue and persists the bound set.
func (s *session) Unbind(ctx context.Context, keys []string) (gateway.Result, error) {
	res, err := s.client.Unbind(ctx, keys)
	if err == nil {
		s.save()
	}
	return res, err
}

// History returns stored records published under entityName.
func (s *session) History(ctx context.Context, entityName, filters string) ([]byte, error) {
	return s.client.HistoricData(ctx, entityName, filters)
}

// Subscribe binds keys and starts the stream. With no keys it falls back
// to the configured bind_keys, then to the persisted bound set.
func (s *session) Subscribe(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		keys = s.cfg.BindKeys
	}
	if len(keys) == 0 {
		keys = s.bound.Keys()
	}
	if err := s.ctrl.Start(ctx, keys); err != nil {
		return err
	}
	s.save()
	return nil
}

// StopSubscription stops the running stream, if any.
func (s *session) StopSubscription() error {
	return s.ctrl.Stop()
}

// Latest returns the most recent chunk.
func (s *session) Latest() (stream.Chunk, bool) {
	return s.ctrl.Latest()
}

// Status summarizes the session.
func (s *session) Status() interactive.Status {
	st := interactive.Status{
		EntityID:     s.identity.EntityID(),
		BaseURL:      s.identity.BaseURL(),
		HasKey:       s.identity.HasEntityAPIKey(),
		BoundKeys:    s.bound.Keys(),
		Subscription: s.ctrl.State().String(),
		StreamID:     s.ctrl.HandleID(),
	}
	if err := s.ctrl.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Close stops any stream and releases resources. It is safe to call once
// the session is no longer used.
func (s *session) Close() error {
	err := s.ctrl.Close()
	s.client.CloseIdleConnections()
	s.closeProtocolLog()
	return err
}

// printChunk writes c as "<RFC3339 millis> <text>".
func printChunk(w io.Writer, c stream.Chunk) {
	fmt.Fprintf(w, "%s %s\n", c.ReceivedAt().UTC().Format("2006-01-02T15:04:05.000Z"), c.Text())
}

var _ interactive.Session = (*session)(nil)

// Command ideam is a client for the IDEAM IoT middleware.
//
// It registers an entity, publishes data, binds to other entities' data
// and follows the live subscription stream. The entity API key and bound
// keys are saved to a state file so later runs reuse them.
//
// Usage:
//
//	ideam <command> [flags] [args]
//
// Commands:
//
//	register                   Obtain the entity API key
//	publish <data>             Publish data under this entity
//	bind <key>...              Bind device keys to this entity's queue
//	unbind <key>...            Unbind device keys
//	history <entity>           Query stored data
//	subscribe [key]...         Bind keys and print the live stream until interrupted
//	shell                      Interactive mode
//	discover                   List middleware gateways on the local network
//	announce                   Advertise a gateway on the local network
//	config                     Print the effective configuration
//	reset                      Remove the saved state file
//	version                    Print the middleware API version
//
// Common flags:
//
//	-config string          Configuration file (YAML)
//	-entity string          Entity ID (overrides config)
//	-owner-key string       Owner API key (overrides config)
//	-base-url string        Middleware base URL (overrides config)
//	-skip-tls-verify        Skip TLS certificate verification for this client
//	-state-file string      State file path (default ~/.ideam/state.json)
//	-no-state               Do not read or write the state file
//	-protocol-log string    Capture stream events to this file (CBOR)
//	-log-level string       Log level: debug, info, warn, error
//	-discover               Use the first gateway found via mDNS
//	-iface string           Network interface for mDNS
//
// Examples:
//
//	# Register once, then publish
//	ideam register -entity streetlight-7 -owner-key $OWNER_KEY
//	ideam publish -entity streetlight-7 '{"lux": 412}'
//
//	# Follow two devices, capturing the stream for ideam-log
//	ideam subscribe -entity dashboard -protocol-log sub.ilog streetlight-7 streetlight-8
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rbccps-iisc/ideam-go/cmd/ideam/interactive"
	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
	"github.com/rbccps-iisc/ideam-go/pkg/config"
	"github.com/rbccps-iisc/ideam-go/pkg/discovery"
	"github.com/rbccps-iisc/ideam-go/pkg/gateway"
	"github.com/rbccps-iisc/ideam-go/pkg/persistence"
	"github.com/rbccps-iisc/ideam-go/pkg/stream"
	"github.com/rbccps-iisc/ideam-go/pkg/subscription"
	"github.com/rbccps-iisc/ideam-go/pkg/version"
)

const usage = `ideam - IDEAM middleware client

Usage:
  ideam <command> [flags] [args]

Commands:
  register            Obtain the entity API key
  publish <data>      Publish data under this entity
  bind <key>...       Bind device keys to this entity's queue
  unbind <key>...     Unbind device keys
  history <entity>    Query stored data
  subscribe [key]...  Print the live stream until interrupted
  shell               Interactive mode
  discover            List middleware gateways on the local network
  announce            Advertise a gateway on the local network
  config              Print the effective configuration
  reset               Remove the saved state file
  version             Print the middleware API version

Use "ideam <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "register":
		err = runRegister(ctx, args)
	case "publish":
		err = runPublish(ctx, args)
	case "bind":
		err = runBind(ctx, args, true)
	case "unbind":
		err = runBind(ctx, args, false)
	case "history":
		err = runHistory(ctx, args)
	case "subscribe":
		err = runSubscribe(ctx, args)
	case "shell":
		err = runShell(ctx, args)
	case "discover":
		err = runDiscover(ctx, args)
	case "announce":
		err = runAnnounce(ctx, args)
	case "config":
		err = runConfig(args)
	case "reset":
		err = runReset(args)
	case "version":
		fmt.Printf("ideam (middleware API %s)\n", version.API)
		return
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to process exit codes: 2 for authentication
// problems, 3 for network failures, 1 otherwise.
func exitCode(err error) int {
	switch apierr.KindOf(err) {
	case apierr.KindAuthNotReady, apierr.KindAuthRejected:
		return 2
	case apierr.KindNetwork:
		return 3
	default:
		return 1
	}
}

// commonFlags holds the flags every session-backed command accepts.
type commonFlags struct {
	configFile    string
	entityID      string
	ownerKey      string
	baseURL       string
	skipTLSVerify bool
	stateFile     string
	noState       bool
	protocolLog   string
	logLevel      string
	discover      bool
	iface         string
}

func newFlagSet(name, synopsis, argsUsage string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "ideam %s - %s\n\nUsage:\n  ideam %s [flags] %s\n\nFlags:\n", name, synopsis, name, argsUsage)
		fs.PrintDefaults()
	}

	cf := &commonFlags{}
	fs.StringVar(&cf.configFile, "config", "", "Configuration file (YAML)")
	fs.StringVar(&cf.entityID, "entity", "", "Entity ID (overrides config)")
	fs.StringVar(&cf.ownerKey, "owner-key", "", "Owner API key (overrides config)")
	fs.StringVar(&cf.baseURL, "base-url", "", "Middleware base URL (overrides config)")
	fs.BoolVar(&cf.skipTLSVerify, "skip-tls-verify", false, "Skip TLS certificate verification for this client")
	fs.StringVar(&cf.stateFile, "state-file", "", "State file path (default ~/.ideam/state.json)")
	fs.BoolVar(&cf.noState, "no-state", false, "Do not read or write the state file")
	fs.StringVar(&cf.protocolLog, "protocol-log", "", "Capture stream events to this file (CBOR)")
	fs.StringVar(&cf.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&cf.discover, "discover", false, "Use the first gateway found via mDNS")
	fs.StringVar(&cf.iface, "iface", "", "Network interface for mDNS")
	return fs, cf
}

// loadConfig reads the config file (if any) and applies flag overrides.
func (cf *commonFlags) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cf.configFile != "" {
		var err error
		cfg, err = config.Load(cf.configFile)
		if err != nil {
			return config.Config{}, err
		}
	}

	if cf.entityID != "" {
		cfg.EntityID = cf.entityID
	}
	if cf.ownerKey != "" {
		cfg.OwnerAPIKey = cf.ownerKey
	}
	if cf.baseURL != "" {
		cfg.BaseURL = cf.baseURL
	}
	if cf.skipTLSVerify {
		cfg.SkipTLSVerify = true
	}
	if cf.stateFile != "" {
		cfg.StateFile = cf.stateFile
	}
	if cf.noState {
		cfg.StateFile = ""
	}
	if cf.protocolLog != "" {
		cfg.ProtocolLog = cf.protocolLog
	}
	if cf.logLevel != "" {
		cfg.LogLevel = cf.logLevel
	}
	return cfg, nil
}

// newLogger returns a text slog logger on w at the configured level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// openSession parses args with fs and builds a session.
func openSession(ctx context.Context, fs *flag.FlagSet, cf *commonFlags, args []string) (*session, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := cf.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return newSession(ctx, cfg, sessionOptions{Discover: cf.discover, Interface: cf.iface}, logger)
}

// requestContext bounds a single-shot command.
func requestContext(ctx context.Context, s *session) (context.Context, context.CancelFunc) {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func runRegister(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("register", "Obtain the entity API key", "")
	s, err := openSession(ctx, fs, cf, args)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := requestContext(ctx, s)
	defer cancel()

	key, err := s.Register(ctx)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func runPublish(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("publish", "Publish data under this entity", "<data>")
	s, err := openSession(ctx, fs, cf, args)
	if err != nil {
		return err
	}
	defer s.Close()

	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("data argument required")
	}

	ctx, cancel := requestContext(ctx, s)
	defer cancel()

	res, err := s.Publish(ctx, strings.Join(fs.Args(), " "))
	return printResult(res, err)
}

func runBind(ctx context.Context, args []string, bind bool) error {
	name, synopsis := "bind", "Bind device keys to this entity's queue"
	if !bind {
		name, synopsis = "unbind", "Unbind device keys"
	}
	fs, cf := newFlagSet(name, synopsis, "<key>...")
	s, err := openSession(ctx, fs, cf, args)
	if err != nil {
		return err
	}
	defer s.Close()

	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("at least one key required")
	}

	ctx, cancel := requestContext(ctx, s)
	defer cancel()

	if bind {
		return printResult(s.Bind(ctx, fs.Args()))
	}
	return printResult(s.Unbind(ctx, fs.Args()))
}

func printResult(res gateway.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", res.Status, res.Message)
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("history", "Query stored data", "<entity>")
	filters := fs.String("filters", "", "Query string appended to the request (default \""+gateway.DefaultQueryFilters+"\")")
	s, err := openSession(ctx, fs, cf, args)
	if err != nil {
		return err
	}
	defer s.Close()

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("entity argument required")
	}

	ctx, cancel := requestContext(ctx, s)
	defer cancel()

	body, err := s.History(ctx, fs.Arg(0), *filters)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(body, '\n'))
	return err
}

func runSubscribe(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("subscribe", "Bind keys and print the live stream until interrupted", "[key]...")
	duration := fs.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	s, err := openSession(ctx, fs, cf, args)
	if err != nil {
		return err
	}
	defer s.Close()

	s.SetChunkHandler(func(c stream.Chunk) { printChunk(os.Stdout, c) })

	bindCtx, cancel := requestContext(ctx, s)
	err = s.Subscribe(bindCtx, fs.Args())
	cancel()
	if err != nil {
		return err
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		s.logger.Info("interrupted, stopping")
	case <-timeout:
	case <-s.ctrl.Done():
	}

	if err := s.StopSubscription(); err != nil {
		return err
	}
	if s.ctrl.State() == subscription.StateFailed {
		return s.ctrl.Err()
	}
	return nil
}

func runShell(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("shell", "Interactive mode", "")
	s, err := openSession(ctx, fs, cf, args)
	if err != nil {
		return err
	}
	defer s.Close()

	sh, err := interactive.New(s)
	if err != nil {
		return err
	}
	if s.cfg.RequestTimeout > 0 {
		sh.RequestTimeout = s.cfg.RequestTimeout
	}

	// Route log output through readline so it does not garble the prompt.
	logger, err := newLogger(sh.Stdout(), s.cfg.LogLevel)
	if err != nil {
		return err
	}
	s.logger = logger
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sh.Run(ctx, cancel)
	return nil
}

func runDiscover(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", discovery.BrowseTimeout, "How long to browse")
	iface := fs.String("iface", "", "Network interface for mDNS")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := discovery.DefaultBrowserConfig()
	cfg.Interface = *iface
	browser := discovery.NewMDNSBrowser(cfg)
	defer browser.Stop()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	results, err := browser.Browse(ctx)
	if err != nil {
		return err
	}

	found := 0
	for gw := range results {
		found++
		base, err := gw.BaseURL()
		if err != nil {
			base = "(" + err.Error() + ")"
		}
		ver := gw.Version
		if ver == "" {
			ver = "-"
		}
		if !gw.Compatible() {
			ver += " (incompatible)"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", gw.InstanceName, base, ver, strings.Join(gw.Addresses, ","))
	}
	if found == 0 {
		return discovery.ErrNotFound
	}
	return nil
}

func runAnnounce(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("announce", flag.ExitOnError)
	name := fs.String("name", "", "Instance name (required)")
	port := fs.Uint("port", discovery.DefaultPort, "Gateway port")
	path := fs.String("path", "/", "API path prefix")
	plain := fs.Bool("plain-http", false, "Gateway speaks plain http")
	apiVersion := fs.String("api-version", version.API, "API version advertised in TXT")
	iface := fs.String("iface", "", "Network interface for mDNS")
	ttl := fs.Duration("ttl", discovery.DefaultTTL, "DNS record TTL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port > 65535 {
		return fmt.Errorf("invalid port: %s", strconv.FormatUint(uint64(*port), 10))
	}

	adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{Interface: *iface, TTL: *ttl})
	info := &discovery.GatewayInfo{
		InstanceName: *name,
		Port:         uint16(*port),
		Path:         *path,
		TLS:          !*plain,
		Version:      *apiVersion,
	}
	if err := adv.Advertise(ctx, info); err != nil {
		return err
	}
	defer adv.Stop()

	fmt.Fprintf(os.Stderr, "Advertising %q on %s.%s port %d until interrupted\n", *name, discovery.ServiceType, discovery.Domain, *port)
	<-ctx.Done()
	return nil
}

func runConfig(args []string) error {
	fs, cf := newFlagSet("config", "Print the effective configuration", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.loadConfig()
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runReset(args []string) error {
	fs, cf := newFlagSet("reset", "Remove the saved state file", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.loadConfig()
	if err != nil {
		return err
	}
	if cfg.StateFile == "" {
		return errors.New("no state file configured")
	}
	return persistence.NewCredentialStore(cfg.StateFile).Clear()
}

// Package interactive provides the interactive command-line interface
// for the ideam client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/rbccps-iisc/ideam-go/pkg/gateway"
	"github.com/rbccps-iisc/ideam-go/pkg/stream"
)

// Status is a snapshot of the session shown by the status command.
type Status struct {
	EntityID     string
	BaseURL      string
	HasKey       bool
	BoundKeys    []string
	Subscription string
	StreamID     string
	LastError    string
}

// Session is what the shell drives. The main package implements it on
// top of the gateway client and subscription controller.
type Session interface {
	Register(ctx context.Context) (string, error)
	Publish(ctx context.Context, data string) (gateway.Result, error)
	Bind(ctx context.Context, keys []string) (gateway.Result, error)
	Unbind(ctx context.Context, keys []string) (gateway.Result, error)
	History(ctx context.Context, entityName, filters string) ([]byte, error)
	Subscribe(ctx context.Context, keys []string) error
	StopSubscription() error
	Latest() (stream.Chunk, bool)
	Status() Status
	SetChunkHandler(fn func(stream.Chunk))
}

// Shell handles interactive mode.
type Shell struct {
	session Session
	rl      *readline.Instance
	out     io.Writer

	// RequestTimeout bounds each single-shot command.
	RequestTimeout time.Duration

	watching atomic.Bool
}

// New creates a shell reading from the terminal.
func New(session Session) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ideam> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(session, rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(session Session, out io.Writer) *Shell {
	s := &Shell{
		session:        session,
		out:            out,
		RequestTimeout: 60 * time.Second,
	}
	session.SetChunkHandler(s.handleChunk)
	return s
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "register":
		s.cmdRegister(ctx)

	case "publish", "pub":
		s.cmdPublish(ctx, input, args)

	case "bind":
		s.cmdBind(ctx, args)

	case "unbind":
		s.cmdUnbind(ctx, args)

	case "history", "hist":
		s.cmdHistory(ctx, args)

	case "subscribe", "sub":
		s.cmdSubscribe(ctx, args)

	case "stop":
		s.cmdStop()

	case "latest", "l":
		s.cmdLatest()

	case "watch":
		s.cmdWatch(args)

	case "status":
		s.cmdStatus()

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
IDEAM Client Commands:
  Entity:
    register                          - Obtain the entity API key
    status                            - Show entity and subscription status

  Data:
    publish <data>                    - Publish data under this entity
    history <entity> [filters]        - Query stored data (default filters: size=10)

  Subscription:
    bind <key>...                     - Bind device keys to this entity's queue
    unbind <key>...                   - Unbind device keys
    subscribe [key]...                - Bind keys and start the live stream
    stop                              - Stop the live stream
    latest                            - Show the most recent value
    watch on|off                      - Print every value as it arrives

  General:
    help                              - Show this help
    quit                              - Exit`)
}

func (s *Shell) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.RequestTimeout)
}

func (s *Shell) cmdRegister(ctx context.Context) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key, err := s.session.Register(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Registration failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Registered. Entity API key: %s\n", key)
}

// cmdPublish sends the rest of the line verbatim, so payloads may contain
// spaces.
func (s *Shell) cmdPublish(ctx context.Context, input string, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: publish <data>")
		return
	}
	data := strings.TrimSpace(input[len(strings.Fields(input)[0]):])

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.printResult("publish", func() (gateway.Result, error) { return s.session.Publish(ctx, data) })
}

func (s *Shell) cmdBind(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: bind <key>...")
		return
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.printResult("bind", func() (gateway.Result, error) { return s.session.Bind(ctx, args) })
}

func (s *Shell) cmdUnbind(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: unbind <key>...")
		return
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.printResult("unbind", func() (gateway.Result, error) { return s.session.Unbind(ctx, args) })
}

func (s *Shell) printResult(op string, call func() (gateway.Result, error)) {
	res, err := call()
	if err != nil {
		fmt.Fprintf(s.out, "%s failed: %v\n", op, err)
		return
	}
	fmt.Fprintf(s.out, "%s: %s %s\n", op, res.Status, res.Message)
}

func (s *Shell) cmdHistory(ctx context.Context, args []string) {
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(s.out, "Usage: history <entity> [filters]")
		fmt.Fprintln(s.out, "  Example: history streetlight-7 size=5&pretty=true")
		return
	}
	filters := ""
	if len(args) == 2 {
		filters = args[1]
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	body, err := s.session.History(ctx, args[0], filters)
	if err != nil {
		fmt.Fprintf(s.out, "history failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, string(body))
}

func (s *Shell) cmdSubscribe(ctx context.Context, args []string) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.session.Subscribe(ctx, args); err != nil {
		fmt.Fprintf(s.out, "subscribe failed: %v\n", err)
		return
	}
	st := s.session.Status()
	fmt.Fprintf(s.out, "Subscribed (stream %s). Use 'latest' or 'watch on'.\n", st.StreamID)
}

func (s *Shell) cmdStop() {
	if err := s.session.StopSubscription(); err != nil {
		fmt.Fprintf(s.out, "stop: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Subscription %s\n", s.session.Status().Subscription)
}

func (s *Shell) cmdLatest() {
	c, ok := s.session.Latest()
	if !ok {
		fmt.Fprintln(s.out, "No data received yet")
		return
	}
	s.printChunk(c)
}

func (s *Shell) cmdWatch(args []string) {
	switch {
	case len(args) == 0:
		s.watching.Store(!s.watching.Load())
	case args[0] == "on":
		s.watching.Store(true)
	case args[0] == "off":
		s.watching.Store(false)
	default:
		fmt.Fprintln(s.out, "Usage: watch on|off")
		return
	}
	if s.watching.Load() {
		fmt.Fprintln(s.out, "Watching live values")
	} else {
		fmt.Fprintln(s.out, "Watch off")
	}
}

func (s *Shell) cmdStatus() {
	st := s.session.Status()

	fmt.Fprintln(s.out, "\nStatus:")
	fmt.Fprintln(s.out, "-------------------------------------------")
	fmt.Fprintf(s.out, "  Entity:       %s\n", st.EntityID)
	fmt.Fprintf(s.out, "  Base URL:     %s\n", st.BaseURL)
	fmt.Fprintf(s.out, "  API key:      %s\n", yesNo(st.HasKey))
	if len(st.BoundKeys) == 0 {
		fmt.Fprintln(s.out, "  Bound keys:   (none)")
	} else {
		fmt.Fprintf(s.out, "  Bound keys:   %s\n", strings.Join(st.BoundKeys, ", "))
	}
	fmt.Fprintf(s.out, "  Subscription: %s\n", st.Subscription)
	if st.StreamID != "" {
		fmt.Fprintf(s.out, "  Stream:       %s\n", st.StreamID)
	}
	if st.LastError != "" {
		fmt.Fprintf(s.out, "  Last error:   %s\n", st.LastError)
	}
}

func (s *Shell) handleChunk(c stream.Chunk) {
	if s.watching.Load() {
		s.printChunk(c)
	}
}

func (s *Shell) printChunk(c stream.Chunk) {
	fmt.Fprintf(s.out, "[%s] %s\n", c.ReceivedAt().Format("15:04:05.000"), c.Text())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Package interactive provides the livehub-watch command shell.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/opsboard/livehub-go/pkg/hub"
)

// Kind names accepted by the shell commands.
const (
	KindDevice  = "device"
	KindMachine = "machine"
)

// Shell handles interactive mode for livehub-watch.
type Shell struct {
	rl      *readline.Instance
	out     io.Writer
	targets map[string]target

	// CallTimeout bounds every hub call made by a command.
	CallTimeout time.Duration
}

// New creates a shell for the given hubs. Either hub may be nil.
func New(devices *hub.DeviceHub, machines *hub.MachineHub) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "livehub> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := newShell(rl.Stdout(), devices, machines)
	s.rl = rl
	return s, nil
}

func newShell(out io.Writer, devices *hub.DeviceHub, machines *hub.MachineHub) *Shell {
	s := &Shell{
		out:         out,
		targets:     make(map[string]target),
		CallTimeout: 15 * time.Second,
	}
	if devices != nil {
		s.targets[KindDevice] = bind(KindDevice, devices, FormatDevice)
	}
	if machines != nil {
		s.targets[KindMachine] = bind(KindMachine, machines, FormatMachine)
	}
	return s
}

// Stdout returns a writer that coordinates with the readline prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the command loop. It returns when the user quits or ctx ends.
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
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.exec(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *Shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "subscribe", "sub":
		s.cmdSubscribe(ctx, args)
	case "unsubscribe", "unsub":
		s.cmdUnsubscribe(ctx, args)
	case "state", "get":
		s.cmdState(ctx, args)
	case "count":
		s.cmdCount(ctx, args)
	case "status":
		s.cmdStatus()
	case "list", "ls":
		s.cmdList()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
livehub-watch Commands:
  subscribe <kind> <id>...   - Watch entities (kind: device, machine)
  unsubscribe <kind> <id>... - Stop watching entities
  state <kind> <id>          - Show the last known state
  count <kind> <id>          - Ask the hub for the subscriber count
  status                     - Connection state and routing counters
  list                       - Watched entities and listener counts
  help                       - Show this help
  quit                       - Exit`)
}

// resolve parses "<kind> <id>..." arguments.
func (s *Shell) resolve(args []string, usage string) (target, []string, bool) {
	if len(args) < 2 {
		fmt.Fprintf(s.out, "Usage: %s\n", usage)
		return nil, nil, false
	}
	t, ok := s.targets[strings.ToLower(args[0])]
	if !ok {
		fmt.Fprintf(s.out, "Unknown or unconfigured kind: %s\n", args[0])
		return nil, nil, false
	}
	return t, args[1:], true
}

func (s *Shell) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.CallTimeout)
}

func (s *Shell) cmdSubscribe(ctx context.Context, args []string) {
	t, ids, ok := s.resolve(args, "subscribe <kind> <id>...")
	if !ok {
		return
	}
	for _, id := range ids {
		callCtx, cancel := s.callContext(ctx)
		err := t.subscribe(callCtx, id, s.out)
		cancel()
		switch {
		case err == nil:
			fmt.Fprintf(s.out, "Subscribed to %s %s\n", t.name(), id)
		case hub.IsRejected(err):
			fmt.Fprintf(s.out, "Hub rejected %s %s: %v\n", t.name(), id, err)
		case errors.Is(err, hub.ErrHubTimeout), errors.Is(err, hub.ErrTransportDropped):
			fmt.Fprintf(s.out, "Subscribed to %s %s (pending: %v)\n", t.name(), id, err)
		default:
			fmt.Fprintf(s.out, "Subscribe %s %s failed: %v\n", t.name(), id, err)
		}
	}
}

func (s *Shell) cmdUnsubscribe(ctx context.Context, args []string) {
	t, ids, ok := s.resolve(args, "unsubscribe <kind> <id>...")
	if !ok {
		return
	}
	for _, id := range ids {
		callCtx, cancel := s.callContext(ctx)
		n, err := t.unsubscribe(callCtx, id)
		cancel()
		switch {
		case err != nil:
			fmt.Fprintf(s.out, "Unsubscribe %s %s failed: %v\n", t.name(), id, err)
		case n == 0:
			fmt.Fprintf(s.out, "Not subscribed to %s %s\n", t.name(), id)
		default:
			fmt.Fprintf(s.out, "Unsubscribed from %s %s\n", t.name(), id)
		}
	}
}

func (s *Shell) cmdState(ctx context.Context, args []string) {
	t, ids, ok := s.resolve(args, "state <kind> <id>")
	if !ok {
		return
	}
	for _, id := range ids {
		callCtx, cancel := s.callContext(ctx)
		err := t.state(callCtx, id, s.out)
		cancel()
		if err != nil {
			fmt.Fprintf(s.out, "State of %s %s: %v\n", t.name(), id, err)
		}
	}
}

func (s *Shell) cmdCount(ctx context.Context, args []string) {
	t, ids, ok := s.resolve(args, "count <kind> <id>")
	if !ok {
		return
	}
	for _, id := range ids {
		callCtx, cancel := s.callContext(ctx)
		n, err := t.count(callCtx, id)
		cancel()
		if err != nil {
			fmt.Fprintf(s.out, "Count of %s %s: %v\n", t.name(), id, err)
			continue
		}
		fmt.Fprintf(s.out, "%s %s: %d subscribers\n", t.name(), id, n)
	}
}

func (s *Shell) cmdStatus() {
	for _, name := range s.kinds() {
		t := s.targets[name]
		st := t.stats()
		fmt.Fprintf(s.out, "%-8s %-12s entities=%d cached=%d pushes=%d delivered=%d unroutable=%d no_listeners=%d panics=%d\n",
			name, t.status(), len(t.entities()), t.cached(),
			st.Pushes, st.Delivered, st.Unroutable, st.NoListeners, st.Panics)
	}
}

func (s *Shell) cmdList() {
	found := false
	for _, name := range s.kinds() {
		t := s.targets[name]
		for _, id := range t.entities() {
			fmt.Fprintf(s.out, "%s %s (%d listeners)\n", name, id, t.refCount(id))
			found = true
		}
	}
	if !found {
		fmt.Fprintln(s.out, "No subscriptions")
	}
}

func (s *Shell) kinds() []string {
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

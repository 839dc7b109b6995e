// Package cli is the command registry behind the interactive console and
// the HTTP /cli endpoint.
//
// Commands are registered by name with an argument range and a run
// function that writes its reply to an io.Writer. A command line is split
// into words (double quotes group words) and dispatched by its first word.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/validation"
)

// RunFunc executes a command. args excludes the command name.
type RunFunc func(ctx context.Context, w io.Writer, args []string) error

// Command describes a registered command.
type Command struct {
	Name  string
	Usage string // argument synopsis, e.g. "<section> <name>"
	Help  string

	// LongHelp is printed by "help <command>" below the one-line Help.
	LongHelp string

	// MinArgs and MaxArgs bound len(args); MaxArgs < 0 means unbounded.
	MinArgs int
	MaxArgs int

	// ReadOnly commands change no state and write no files. Only they
	// may run from an HTTP GET.
	ReadOnly bool

	Run RunFunc
}

// Registry holds commands by name. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]*Command
	log  *slog.Logger
}

// NewRegistry creates a registry holding only the help command.
func NewRegistry() *Registry {
	r := &Registry{
		cmds: make(map[string]*Command),
		log:  logging.Component("cli"),
	}
	r.mustRegister(Command{
		Name:     "help",
		Usage:    "[command]",
		Help:     "list commands or describe one",
		MaxArgs:  1,
		ReadOnly: true,
		Run:      r.help,
	})
	return r
}

// Register adds a command. It fails with ErrCommandExists when the name is
// taken and with ErrInvalidName when the name is malformed.
func (r *Registry) Register(cmd Command) error {
	if err := validation.ValidateCommandName(cmd.Name); err != nil {
		return err
	}
	if cmd.Run == nil {
		return fmt.Errorf("command %q: %w", cmd.Name, errors.NewMissingField("run"))
	}
	if cmd.MaxArgs >= 0 && cmd.MaxArgs < cmd.MinArgs {
		return fmt.Errorf("command %q: max args %d below min args %d: %w",
			cmd.Name, cmd.MaxArgs, cmd.MinArgs, errors.ErrInvalidArgs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cmds[cmd.Name]; ok {
		return fmt.Errorf("command %q: %w", cmd.Name, errors.ErrCommandExists)
	}
	c := cmd
	r.cmds[cmd.Name] = &c
	r.log.Debug("command registered", "command", cmd.Name)
	return nil
}

// RegisterScoped registers cmd under "scope.name", so that components
// can add commands without colliding with each other.
func (r *Registry) RegisterScoped(scope string, cmd Command) error {
	if scope == "" {
		return fmt.Errorf("command %q: %w", cmd.Name, errors.NewMissingField("scope"))
	}
	cmd.Name = scope + "." + cmd.Name
	return r.Register(cmd)
}

// DeregisterScope removes every command registered under scope and returns
// how many were removed.
func (r *Registry) DeregisterScope(scope string) int {
	prefix := scope + "."
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name := range r.cmds {
		if strings.HasPrefix(name, prefix) {
			delete(r.cmds, name)
			n++
		}
	}
	return n
}

func (r *Registry) mustRegister(cmd Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// Deregister removes a command.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cmds[name]; !ok {
		return fmt.Errorf("command %q: %w", name, errors.ErrCommandNotFound)
	}
	delete(r.cmds, name)
	r.log.Debug("command deregistered", "command", name)
	return nil
}

// Lookup returns a copy of the named command.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Commands returns all commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all command names sorted.
func (r *Registry) Names() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}

// Run executes the named command with args.
func (r *Registry) Run(ctx context.Context, w io.Writer, name string, args []string) error {
	cmd, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, errors.ErrCommandNotFound)
	}
	if len(args) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(args) > cmd.MaxArgs) {
		return fmt.Errorf("usage: %s: %w", synopsis(cmd), errors.ErrInvalidArgs)
	}

	ctx = logging.ContextWithCommand(ctx, name)
	if err := cmd.Run(ctx, w, args); err != nil {
		logging.WithContext(ctx).Debug("command failed", "error", err)
		return err
	}
	return nil
}

// Exec splits line into words and runs it. An empty line does nothing.
func (r *Registry) Exec(ctx context.Context, w io.Writer, line string) error {
	words, err := Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	return r.Run(ctx, w, words[0], words[1:])
}

// Resolve splits line and looks up its command without running it.
func (r *Registry) Resolve(line string) (Command, []string, error) {
	words, err := Split(line)
	if err != nil {
		return Command{}, nil, err
	}
	if len(words) == 0 {
		return Command{}, nil, fmt.Errorf("empty command line: %w", errors.ErrInvalidArgs)
	}
	cmd, ok := r.Lookup(words[0])
	if !ok {
		return Command{}, nil, fmt.Errorf("%q: %w", words[0], errors.ErrCommandNotFound)
	}
	return cmd, words[1:], nil
}

type remoteKey struct{}

// WithRemote marks ctx as carrying a command from a network caller.
func WithRemote(ctx context.Context) context.Context {
	return context.WithValue(ctx, remoteKey{}, true)
}

// IsRemote reports whether ctx was marked by WithRemote.
func IsRemote(ctx context.Context) bool {
	v, _ := ctx.Value(remoteKey{}).(bool)
	return v
}

// Split breaks a command line into words on whitespace. Double quotes
// group words and a backslash escapes the next character.
func Split(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quoted  bool
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inWord = true
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quoted || escaped {
		return nil, fmt.Errorf("unterminated quote or escape: %w", errors.ErrInvalidArgs)
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

func synopsis(c Command) string {
	if c.Usage == "" {
		return c.Name
	}
	return c.Name + " " + c.Usage
}

func (r *Registry) help(_ context.Context, w io.Writer, args []string) error {
	if len(args) == 1 {
		cmd, ok := r.Lookup(args[0])
		if !ok {
			return fmt.Errorf("%q: %w", args[0], errors.ErrCommandNotFound)
		}
		fmt.Fprintf(w, "%s\n  %s\n", synopsis(cmd), cmd.Help)
		if cmd.LongHelp != "" {
			fmt.Fprintf(w, "\n%s\n", strings.TrimRight(cmd.LongHelp, "\n"))
		}
		return nil
	}

	cmds := r.Commands()
	width := 0
	for _, c := range cmds {
		if n := len(synopsis(c)); n > width {
			width = n
		}
	}
	for _, c := range cmds {
		fmt.Fprintf(w, "%-*s  %s\n", width, synopsis(c), c.Help)
	}
	return nil
}

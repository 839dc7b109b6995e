// Package console is the interactive front end of the command registry.
//
// On a terminal it runs a go-prompt line editor with completion of command
// names, counter sections and counter names. Otherwise it reads one command
// per line, which makes scripted use ("echo counter.list | perfkitd") work.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/perfkit/internal/cli"
	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/logging"
)

// Options configures a Console.
type Options struct {
	Prefix string

	// Counters enables completion of sections and counter names.
	Counters *counter.Registry

	In  *os.File
	Out io.Writer
}

// Console reads command lines and dispatches them to a cli.Registry.
type Console struct {
	cmds *cli.Registry
	opts Options
	log  *slog.Logger
	ctx  context.Context

	exited atomic.Bool
}

// New creates a console over cmds.
func New(cmds *cli.Registry, opts Options) *Console {
	if opts.Prefix == "" {
		opts.Prefix = "perfkit> "
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Console{
		cmds: cmds,
		opts: opts,
		log:  logging.Component("console"),
		ctx:  context.Background(),
	}
}

// Interactive reports whether the input is a terminal.
func (c *Console) Interactive() bool {
	return term.IsTerminal(int(c.opts.In.Fd()))
}

// Run reads commands until ctx is done, the input ends, or "exit" is
// entered.
func (c *Console) Run(ctx context.Context) error {
	c.ctx = ctx
	if c.Interactive() {
		return c.runPrompt(ctx)
	}
	return c.RunLines(ctx, c.opts.In)
}

func (c *Console) runPrompt(ctx context.Context) error {
	fd := int(c.opts.In.Fd())
	state, err := term.GetState(fd)
	if err != nil {
		return fmt.Errorf("console: get terminal state: %w", err)
	}

	p := prompt.New(
		c.Execute,
		c.Complete,
		prompt.OptionPrefix(c.opts.Prefix),
		prompt.OptionTitle("perfkit"),
		prompt.OptionMaxSuggestion(12),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return c.exited.Load()
		}),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// The prompt goroutine stays blocked on stdin; put the terminal
		// back so the shell is usable after exit.
		if err := term.Restore(fd, state); err != nil {
			c.log.Warn("restore terminal", "error", err)
		}
	}
	return nil
}

// RunLines executes one command per line of r.
func (c *Console) RunLines(ctx context.Context, r io.Reader) error {
	c.ctx = ctx
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		c.Execute(sc.Text())
		if c.exited.Load() {
			return nil
		}
	}
	return sc.Err()
}

// Execute runs one command line and writes its reply.
func (c *Console) Execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	if line == "exit" || line == "quit" {
		c.exited.Store(true)
		return
	}

	var out strings.Builder
	err := c.cmds.Exec(c.ctx, &out, line)
	io.WriteString(c.opts.Out, cli.NewReply(out.String(), err).String())
}

// Exited reports whether "exit" was entered.
func (c *Console) Exited() bool {
	return c.exited.Load()
}

// commands whose first two arguments are a section and a counter name
var counterArgCommands = map[string]bool{
	"counter.get":         true,
	"counter.percentiles": true,
	"counter.remove":      true,
	"counter.list":        true,
}

// Complete returns suggestions for the text before the cursor.
func (c *Console) Complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	word := d.GetWordBeforeCursor()

	words, err := cli.Split(before)
	if err != nil {
		// inside an open quote
		if words, err = cli.Split(before + `"`); err != nil {
			return nil
		}
	}
	// Index of the word being completed.
	pos := len(words)
	if word != "" {
		pos--
	}

	if pos == 0 {
		return prompt.FilterHasPrefix(c.commandSuggestions(), word, true)
	}
	if !counterArgCommands[words[0]] || c.opts.Counters == nil {
		return nil
	}
	switch pos {
	case 1:
		return prompt.FilterHasPrefix(c.sectionSuggestions(), word, true)
	case 2:
		if words[0] == "counter.list" {
			return nil
		}
		return filterQuoted(c.nameSuggestions(words[1]), word)
	}
	return nil
}

func (c *Console) commandSuggestions() []prompt.Suggest {
	cmds := c.cmds.Commands()
	out := make([]prompt.Suggest, 0, len(cmds)+1)
	for _, cmd := range cmds {
		out = append(out, prompt.Suggest{Text: cmd.Name, Description: cmd.Help})
	}
	out = append(out, prompt.Suggest{Text: "exit", Description: "leave the console"})
	return out
}

func (c *Console) sectionSuggestions() []prompt.Suggest {
	seen := make(map[string]int)
	for _, info := range c.opts.Counters.List() {
		seen[info.Key.Section]++
	}
	out := make([]prompt.Suggest, 0, len(seen))
	for s, n := range seen {
		out = append(out, prompt.Suggest{Text: s, Description: fmt.Sprintf("%d counters", n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out
}

func (c *Console) nameSuggestions(section string) []prompt.Suggest {
	var out []prompt.Suggest
	for _, info := range c.opts.Counters.List() {
		if info.Key.Section != section {
			continue
		}
		out = append(out, prompt.Suggest{Text: quoteArg(info.Key.Name), Description: info.Kind.String()})
	}
	return out
}

// quoteArg quotes s so that cli.Split returns it as one word.
func quoteArg(s string) string {
	if !strings.ContainsAny(s, " \t\"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// filterQuoted is prompt.FilterHasPrefix ignoring a leading quote on both
// sides.
func filterQuoted(in []prompt.Suggest, word string) []prompt.Suggest {
	word = strings.ToLower(strings.TrimPrefix(word, `"`))
	var out []prompt.Suggest
	for _, s := range in {
		if strings.HasPrefix(strings.ToLower(strings.TrimPrefix(s.Text, `"`)), word) {
			out = append(out, s)
		}
	}
	return out
}

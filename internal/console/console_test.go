package console

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/c-bata/go-prompt"

	"github.com/xtxerr/perfkit/internal/cli"
	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/logging"
)

func newTestConsole(t *testing.T) (*Console, *strings.Builder) {
	t.Helper()
	reg := counter.NewRegistry(
		counter.WithClock(clock.NewMock()),
		counter.WithLogger(logging.Discard()),
		counter.WithPercentileWindow(time.Minute, 0.01),
	)
	for _, c := range []struct {
		section, name string
		kind          counter.Kind
	}{
		{"io", "reads", counter.KindNumber},
		{"io", "read latency", counter.KindPercentile},
		{"net", "rx", counter.KindRate},
	} {
		if _, err := reg.Create(c.section, c.name, c.kind, ""); err != nil {
			t.Fatal(err)
		}
	}

	cmds := cli.NewRegistry()
	if err := cli.RegisterBuiltins(cmds, reg, nil); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	return New(cmds, Options{Counters: reg, Out: &out}), &out
}

func document(text string) prompt.Document {
	b := prompt.NewBuffer()
	b.InsertText(text, false, true)
	return *b.Document()
}

func texts(s []prompt.Suggest) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Text
	}
	return out
}

func TestComplete(t *testing.T) {
	c, _ := newTestConsole(t)

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"command prefix", "counter.p", []string{"counter.percentiles"}},
		{"exit", "ex", []string{"exit"}},
		{"sections", "counter.get ", []string{"io", "net"}},
		{"section prefix", "counter.get n", []string{"net"}},
		{"names", "counter.get io ", []string{`"read latency"`, "reads"}},
		{"name prefix", "counter.get io reads", []string{"reads"}},
		{"open quote", `counter.get io "read l`, nil},
		{"unknown section", "counter.get disk ", nil},
		{"list takes one arg", "counter.list io ", nil},
		{"no counter args", "crc32 ", nil},
		{"past the name", "counter.get io reads ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texts(c.Complete(document(tt.input)))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Complete(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompleteOpenQuoteMatches(t *testing.T) {
	c, _ := newTestConsole(t)
	got := texts(c.Complete(document(`counter.get io "rea`)))
	if strings.Join(got, ",") != `"read latency",reads` {
		t.Errorf("got %q", got)
	}
}

func TestExecute(t *testing.T) {
	c, out := newTestConsole(t)

	c.Execute("counter.get io reads")
	if !strings.Contains(out.String(), "value:") {
		t.Errorf("counter.get output = %q", out.String())
	}

	out.Reset()
	c.Execute("counter.get io nope")
	if !strings.Contains(out.String(), "NotFound") {
		t.Errorf("error reply = %q", out.String())
	}

	out.Reset()
	c.Execute("   ")
	c.Execute("# comment")
	if out.Len() != 0 {
		t.Errorf("blank and comment lines wrote %q", out.String())
	}
}

func TestRunLines(t *testing.T) {
	c, out := newTestConsole(t)

	script := strings.Join([]string{
		"crc32 123456789",
		"exit",
		"crc64 never",
	}, "\n")
	if err := c.RunLines(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
	if !c.Exited() {
		t.Error("exit not recorded")
	}
	if got := out.String(); got != "0xe3069283\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunLinesCancelled(t *testing.T) {
	c, out := newTestConsole(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.RunLines(ctx, strings.NewReader("crc32 a\n")); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("cancelled console ran a command: %q", out.String())
	}
}

func TestQuoteArg(t *testing.T) {
	tests := []struct{ in, want string }{
		{"reads", "reads"},
		{"read latency", `"read latency"`},
		{`a"b`, `"a\"b"`},
	}
	for _, tt := range tests {
		got := quoteArg(tt.in)
		if got != tt.want {
			t.Errorf("quoteArg(%q) = %q, want %q", tt.in, got, tt.want)
		}
		words, err := cli.Split(got)
		if err != nil || len(words) != 1 || words[0] != tt.in {
			t.Errorf("Split(%q) = %q, %v", got, words, err)
		}
	}
}

package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"RagChat/internal/dispatch"
	"RagChat/internal/endpoint"
	"RagChat/internal/health"
	"RagChat/internal/interaction"
	"RagChat/internal/session"
)

// Session is what the console drives
type Session interface {
	ID() string
	SelectEndpoint(name string) error
	SubmitQuery(ctx context.Context, text string) dispatch.Outcome
	RetryHealth() error
	Status() health.Status
	Selected() endpoint.Endpoint
	Endpoints() []endpoint.Endpoint
	EndpointNames() []string
	Entries() []interaction.Entry
	EntriesSince(n int) []interaction.Entry
	Subscribe() (<-chan session.Event, func())
}

// Options configures the console
type Options struct {
	In       io.Reader
	Out      io.Writer
	Markdown bool // render assistant entries with glamour
	Logger   *slog.Logger
}

// Console is a line-oriented REPL over a session
type Console struct {
	sess     Session
	in       io.Reader
	logger   *slog.Logger
	renderer *glamour.TermRenderer

	mu      sync.Mutex // guards out and printed
	out     io.Writer
	printed int
}

// New creates a console. Markdown rendering wraps to the terminal width when stdout is a terminal.
func New(sess Session, opts Options) (*Console, error) {
	if sess == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	c := &Console{sess: sess, in: opts.In, out: opts.Out, logger: opts.Logger}

	if opts.Markdown {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(terminalWidth()-10),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		c.renderer = renderer
	}
	return c, nil
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < 40 {
		return 80
	}
	return width
}

// Run reads commands and queries until EOF, /quit or ctx is done
func (c *Console) Run(ctx context.Context) error {
	events, unsubscribe := c.sess.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watch(ctx, events)
	}()

	c.printf("=== RAG Chat ===\n")
	c.printf("Session: %s\n", c.sess.ID())
	c.printf("Endpoint: %s (%s)\n", c.sess.Selected().Name, c.sess.Selected().BaseURL)
	c.printf("Type /help for commands, /quit to exit\n\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	err := c.loop(ctx, lines)

	unsubscribe()
	wg.Wait()
	c.printf("Goodbye!\n")
	return err
}

func (c *Console) loop(ctx context.Context, lines <-chan string) error {
	for {
		c.printf("You: ")

		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := c.handleCommand(input)
			if err != nil {
				c.printf("Error: %v\n", err)
				c.logger.Warn("command error", "command", input, "error", err)
			}
			if quit {
				return nil
			}
			continue
		}

		c.sess.SubmitQuery(ctx, input)
		c.flushEntries()
	}
}

// watch prints status changes as they arrive
func (c *Console) watch(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == session.EventStatus {
				c.printf("\n[%s] %s\n", ev.Status.Endpoint, ev.Status)
			}
		}
	}
}

func (c *Console) handleCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/env", "/switch":
		if len(parts) < 2 {
			c.printEndpoints()
			return false, nil
		}
		if err := c.sess.SelectEndpoint(parts[1]); err != nil {
			if errors.Is(err, endpoint.ErrNotFound) {
				return false, fmt.Errorf("unknown endpoint %q (available: %s)", parts[1], strings.Join(c.sess.EndpointNames(), ", "))
			}
			return false, err
		}
		c.printf("Switched to %s\n", parts[1])
		return false, nil

	case "/envs":
		c.printEndpoints()
		return false, nil

	case "/retry":
		return false, c.sess.RetryHealth()

	case "/status":
		st := c.sess.Status()
		c.printf("%s: %s\n", c.sess.Selected().Name, st)
		if st.Version != "" {
			c.printf("  version %s\n", st.Version)
		}
		return false, nil

	case "/history":
		c.mu.Lock()
		c.printed = 0
		c.mu.Unlock()
		c.flushAll()
		return false, nil

	case "/help":
		c.printf("Commands:\n")
		c.printf("  /env <name>  switch endpoint (no name lists them)\n")
		c.printf("  /envs        list endpoints\n")
		c.printf("  /retry       probe the current endpoint again\n")
		c.printf("  /status      show connectivity\n")
		c.printf("  /history     print the whole conversation\n")
		c.printf("  /quit        exit\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (c *Console) printEndpoints() {
	current := c.sess.Selected().Name
	for _, ep := range c.sess.Endpoints() {
		marker := " "
		if ep.Name == current {
			marker = "*"
		}
		note := ""
		if ep.ColdStart {
			note = " (cold start)"
		}
		c.printf("%s %s  %s%s\n", marker, ep.Name, ep.BaseURL, note)
	}
}

// flushEntries prints assistant entries appended since the last flush
func (c *Console) flushEntries() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := c.sess.EntriesSince(c.printed)
	for _, e := range fresh {
		if e.Role == interaction.RoleAssistant {
			c.writeEntryLocked(e)
		}
	}
	c.printed += len(fresh)
}

func (c *Console) flushAll() {
	entries := c.sess.Entries()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.writeEntryLocked(e)
	}
	c.printed = len(entries)
}

func (c *Console) writeEntryLocked(e interaction.Entry) {
	if e.Role == interaction.RoleUser {
		fmt.Fprintf(c.out, "You: %s\n", e.Content)
		return
	}

	body := e.Content
	if c.renderer != nil {
		if rendered, err := c.renderer.Render(e.Content); err == nil {
			body = strings.TrimRight(rendered, "\n")
		} else {
			c.logger.Debug("markdown render failed", "entry_id", e.ID, "error", err)
		}
	}
	fmt.Fprintf(c.out, "Bot: %s\n", body)
	if attrs := formatAttributes(e.Attributes); attrs != "" {
		fmt.Fprintf(c.out, "     %s\n", attrs)
	}
	fmt.Fprintln(c.out)
}

// formatAttributes renders attributes as sorted key=value pairs
func formatAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, attrs[k])
	}
	return strings.Join(parts, " · ")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

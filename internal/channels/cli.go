package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/santosobot/santoso/internal/bus"
)

// CLIChatID is the chat id of the single terminal conversation.
const CLIChatID = "local"

const cliPrompt = "You: "

// CLI is an interactive terminal channel. The prompt is only drawn when
// input is a terminal, so piped input produces clean output.
type CLI struct {
	in          io.Reader
	out         io.Writer
	bus         *bus.MessageBus
	logger      *slog.Logger
	interactive bool

	mu       sync.Mutex // serializes writes to out
	pending  int        // messages published but not yet answered
	closing  bool
	exitOnce sync.Once
	exited   chan struct{}
}

// NewCLI creates a terminal channel reading in and writing out.
func NewCLI(in io.Reader, out io.Writer, b *bus.MessageBus, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{
		in:          in,
		out:         out,
		bus:         b,
		logger:      logger.With("channel", "cli"),
		interactive: isTerminal(in),
		exited:      make(chan struct{}),
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Name implements Channel.
func (c *CLI) Name() string { return "cli" }

// Done is closed once the user has ended the session (or input reached
// EOF) and every published message has been answered.
func (c *CLI) Done() <-chan struct{} { return c.exited }

// finish marks the input side closed.
func (c *CLI) finish() {
	c.mu.Lock()
	c.closing = true
	idle := c.pending == 0
	c.mu.Unlock()
	if idle {
		c.exitOnce.Do(func() { close(c.exited) })
	}
}

// IsExitCommand reports whether line ends an interactive session.
func IsExitCommand(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit", "/exit", "/quit":
		return true
	}
	return false
}

// Start reads lines and publishes each as an inbound message. It
// returns when the user exits, input ends, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	if c.interactive {
		c.write("Santoso CLI - type 'exit' or 'quit' to end the session\n\n" + cliPrompt)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	defer c.finish()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				if c.interactive {
					c.write(cliPrompt)
				}
				continue
			}
			if IsExitCommand(line) {
				if c.interactive {
					c.write("Goodbye!\n")
				}
				return nil
			}
			c.mu.Lock()
			c.pending++
			c.mu.Unlock()
			err := c.bus.PublishInbound(ctx, bus.InboundMessage{
				Channel:  c.Name(),
				SenderID: "user",
				ChatID:   CLIChatID,
				Content:  line,
			})
			if err != nil {
				return nil
			}
		}
	}
}

// Send prints a reply. In interactive mode the prompt is redrawn.
func (c *CLI) Send(_ context.Context, msg bus.OutboundMessage) error {
	defer c.answered()
	var b strings.Builder
	if c.interactive {
		b.WriteString("\nSantoso: ")
	}
	b.WriteString(msg.Content)
	b.WriteString("\n")
	if c.interactive {
		b.WriteString("\n" + cliPrompt)
	}
	return c.write(b.String())
}

func (c *CLI) write(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, s)
	return err
}

func (c *CLI) answered() {
	c.mu.Lock()
	if c.pending > 0 {
		c.pending--
	}
	done := c.closing && c.pending == 0
	c.mu.Unlock()
	if done {
		c.exitOnce.Do(func() { close(c.exited) })
	}
}

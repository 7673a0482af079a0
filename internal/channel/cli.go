package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"skillbot/internal/agent"
	"skillbot/internal/domain"
)

// CLIConfig configures the terminal chat.
type CLIConfig struct {
	Hub            *agent.Hub
	ConversationID string
	UserID         string
	Logger         *slog.Logger
	In             io.Reader
	Out            io.Writer
	// Spinner animates a "Thinking..." line while a turn runs.
	Spinner bool
}

// CLI is an interactive REPL bound to one conversation.
type CLI struct {
	hub    *agent.Hub
	convID string
	userID string
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	spinner   bool
	outMu     sync.Mutex
	streaming bool
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = "cli"
	}
	if cfg.UserID == "" {
		cfg.UserID = "local"
	}
	return &CLI{
		hub:     cfg.Hub,
		convID:  cfg.ConversationID,
		userID:  cfg.UserID,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or ctx is done.
func (c *CLI) Start(ctx context.Context) error {
	conv, detach, err := c.hub.Connect(ctx, c.convID, c.userID, domain.EmitterFunc(c.render))
	if err != nil {
		return fmt.Errorf("connect conversation: %w", err)
	}
	defer detach()

	c.printf("Type a message and press Enter. /help lists commands, /quit exits.\n")
	c.printf("You> ")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			c.printf("You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		turn, err := parseCLITurn(line)
		if err != nil {
			c.printf("%v\nYou> ", err)
			continue
		}

		c.startThinking()
		err = conv.HandleTurn(ctx, turn)
		c.stopThinking()
		if err != nil && ctx.Err() == nil {
			c.logger.Error("turn failed", "err", err)
		}
		c.printf("You> ")
	}
}

// parseCLITurn turns "/skill <id> [json]" into a direct skill call and
// anything else into chat.
func parseCLITurn(line string) (domain.InboundTurn, error) {
	rest, ok := strings.CutPrefix(line, "/skill ")
	if !ok {
		return domain.InboundTurn{Type: domain.TurnChat, Content: line}, nil
	}
	id, payload, _ := strings.Cut(strings.TrimSpace(rest), " ")
	turn := domain.InboundTurn{Type: domain.TurnSkill, SkillID: id}
	if payload = strings.TrimSpace(payload); payload != "" {
		if err := json.Unmarshal([]byte(payload), &turn.Data); err != nil {
			return turn, fmt.Errorf("skill data must be a JSON object: %w", err)
		}
		turn.Action = domain.ActionSubmit
	}
	return turn, nil
}

func (c *CLI) render(out domain.Outbound) {
	switch out.Type {
	case domain.EventWelcome:
		names := make([]string, 0, len(out.AvailableDomains))
		for _, d := range out.AvailableDomains {
			names = append(names, d.Name)
		}
		c.printf("Session %s. Domains: %s\n", out.SessionID, strings.Join(names, ", "))
	case domain.EventStream:
		c.stopThinking()
		c.outMu.Lock()
		if !c.streaming {
			fmt.Fprint(c.out, "\r\033[KBot> ")
			c.streaming = true
		}
		fmt.Fprint(c.out, out.Delta)
		c.outMu.Unlock()
	case domain.EventMessageAdded:
		if out.Message == nil || out.Message.Role != domain.RoleAssistant {
			return
		}
		c.stopThinking()
		c.outMu.Lock()
		if c.streaming {
			fmt.Fprintln(c.out)
			c.streaming = false
		} else {
			fmt.Fprintf(c.out, "\r\033[KBot> %s\n", out.Message.Content)
		}
		c.outMu.Unlock()
	case domain.EventError:
		c.stopThinking()
		c.printf("\r\033[KError: %s\n", out.ErrorMessage)
	}
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if !c.spinner || c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	stop, done := c.thinkStop, c.thinkDone
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.outMu.Lock()
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				c.outMu.Unlock()
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.outMu.Lock()
	if !c.thinking {
		c.outMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.outMu.Unlock()
	<-done
}

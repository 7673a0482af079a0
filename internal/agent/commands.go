package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"skillbot/internal/domain"
	"skillbot/internal/workflow"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// startTime records when the process started for /uptime.
var startTime = time.Now()

// version is set by the build system. Default fallback.
var version = "0.1.0"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

// Version returns the version string reported by /version.
func Version() string { return version }

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return &ChatCommand{Name: name, Args: args, Raw: text}
}

// command runs a chat command. Unknown commands report false and the text is
// handled as an ordinary message.
func (c *Conversation) command(ctx context.Context, cmd *ChatCommand, sc *domain.SkillContext) (turnResult, bool) {
	switch cmd.Name {
	case "help":
		return c.chain(ctx, sc, domain.SkillHelp, domain.SkillInput{Message: cmd.Raw}), true

	case "cancel":
		return c.chain(ctx, sc, domain.SkillWorkflowCoordinator, domain.SkillInput{Action: domain.ActionCancel}), true

	case "status":
		return c.chain(ctx, sc, domain.SkillWorkflowCoordinator, domain.SkillInput{Action: workflow.ActionStatus}), true

	case "new", "clear":
		res := c.chain(ctx, sc, domain.SkillWorkflowCoordinator, domain.SkillInput{Action: domain.ActionCancel})
		res.reply = "Conversation cleared. Starting fresh."
		res.clear = true
		return res, true

	case "uptime":
		uptime := time.Since(startTime).Round(time.Second)
		return turnResult{reply: fmt.Sprintf("Uptime: %s", uptime), ok: true}, true

	case "version":
		return turnResult{
			reply: fmt.Sprintf("skillbot v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()),
			ok:    true,
		}, true
	}
	return turnResult{}, false
}

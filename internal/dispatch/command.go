package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

const commandPrefix = "!chat"

const helpText = `Commands:
!chat set <name> - use a named system prompt for your conversations
!chat show - show your current system prompt selection
!chat help - show this help`

// runCommand interprets an administrative command embedded after the skip
// marker. It returns the reply text and whether anything should be posted;
// a marker without a command means "do not reply at all".
func (d *Dispatcher) runCommand(ctx context.Context, acct, text string) (string, bool) {
	idx := strings.Index(text, commandPrefix)
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(text[idx+len(commandPrefix):])
	if len(fields) == 0 {
		return helpText, true
	}

	switch fields[0] {
	case "set":
		if len(fields) < 2 {
			return "usage: !chat set <name>\navailable: " + d.promptNames(), true
		}
		return d.setPrompt(ctx, acct, fields[1]), true
	case "show":
		return d.showPrompt(ctx, acct), true
	default:
		return helpText, true
	}
}

func (d *Dispatcher) setPrompt(ctx context.Context, acct, name string) string {
	if _, ok := d.promptBodies[name]; !ok {
		return "unknown prompt " + name + "\navailable: " + d.promptNames()
	}
	if err := d.prompts.SetPromptOverride(ctx, acct, name); err != nil {
		d.logger.Error("set prompt override failed", slog.String("acct", acct), slog.Any("error", err))
		return "could not save your selection, please try again"
	}
	// A changed prompt resets the active conversation.
	d.store.Clear(acct)
	return "system prompt set to " + name
}

func (d *Dispatcher) showPrompt(ctx context.Context, acct string) string {
	name := d.prompts.PromptOverride(ctx, acct)
	if name == "" {
		return "system prompt: default"
	}
	if _, ok := d.promptBodies[name]; !ok {
		return "system prompt: default (selection " + name + " no longer exists)"
	}
	return "system prompt: " + name
}

func (d *Dispatcher) promptNames() string {
	if len(d.promptBodies) == 0 {
		return "(none configured)"
	}
	names := make([]string, 0, len(d.promptBodies))
	for name := range d.promptBodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

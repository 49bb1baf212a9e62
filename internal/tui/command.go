package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/wacrm/internal/store"
)

// Command is a parsed slash command typed into the composer.
type Command struct {
	Name string
	Args string
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoConversation = errors.New("no conversation selected")
	ErrNothingFailed  = errors.New("no failed message in this conversation")
)

// ParseCommand parses a line such as "/status call_scheduled".
func ParseCommand(line string) (Command, error) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	parts := strings.SplitN(line, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	switch cmd.Name {
	case "status":
		if cmd.Args == "" {
			return cmd, errors.New("usage: /status <tag>")
		}
	case "retry", "dismiss", "refresh":
	default:
		return cmd, fmt.Errorf("%w: /%s", ErrUnknownCommand, cmd.Name)
	}
	return cmd, nil
}

type conversations interface {
	Selected() string
	Select(ctx context.Context, id string) error
	Messages(id string) []store.Message
	UpdateStatusTag(ctx context.Context, id, tag string) error
	Dismiss(id, provisionalID string) bool
	RequestConversationRefresh()
}

type sender interface {
	Send(ctx context.Context, id, body string) (string, error)
	Retry(ctx context.Context, id, provisionalID string) (string, error)
}

// executor runs commands against the selected conversation.
type executor struct {
	conv conversations
	send sender
}

// run executes cmd and returns a confirmation for the status bar.
func (x *executor) run(ctx context.Context, cmd Command) (string, error) {
	id := x.conv.Selected()
	if id == "" && cmd.Name != "refresh" {
		return "", ErrNoConversation
	}
	switch cmd.Name {
	case "status":
		if err := x.conv.UpdateStatusTag(ctx, id, cmd.Args); err != nil {
			return "", err
		}
		return "status set to " + cmd.Args, nil
	case "retry":
		pid, ok := lastFailed(x.conv.Messages(id))
		if !ok {
			return "", ErrNothingFailed
		}
		if _, err := x.send.Retry(ctx, id, pid); err != nil {
			return "", err
		}
		return "message sent", nil
	case "dismiss":
		pid, ok := lastFailed(x.conv.Messages(id))
		if !ok || !x.conv.Dismiss(id, pid) {
			return "", ErrNothingFailed
		}
		return "failed message dismissed", nil
	case "refresh":
		x.conv.RequestConversationRefresh()
		if id != "" {
			if err := x.conv.Select(ctx, id); err != nil {
				return "", err
			}
		}
		return "refreshing", nil
	}
	return "", fmt.Errorf("%w: /%s", ErrUnknownCommand, cmd.Name)
}

// lastFailed returns the provisional id of the newest failed message.
func lastFailed(msgs []store.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == store.StatusFailed && msgs[i].ProvisionalID != "" {
			return msgs[i].ProvisionalID, true
		}
	}
	return "", false
}

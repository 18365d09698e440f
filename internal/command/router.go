package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/TheGojiOG/worldkeeper/internal/backup"
	"github.com/TheGojiOG/worldkeeper/internal/logging"
	"github.com/TheGojiOG/worldkeeper/internal/metrics"
	"github.com/TheGojiOG/worldkeeper/internal/state"
)

// Source identifies where a command line came from
type Source int

const (
	SourceOperator Source = iota
	SourceChat
)

func (s Source) String() string {
	if s == SourceChat {
		return "chat"
	}
	return "operator"
}

// Sender writes a line to the server's command stream
type Sender interface {
	SendLine(text string) error
}

// Backups runs a snapshot synchronously
type Backups interface {
	Run(ctx context.Context, trigger string) (backup.Record, error)
}

// Options configures a Router
type Options struct {
	Marker          string
	BroadcastPrefix string
	Operator        io.Writer // local console; receives list output and local errors
}

// Router is the single dispatch point for operator and chat commands.
// Operator lines are always privileged; chat commands run only for users
// in the super-user set and are otherwise dropped without a reply.
type Router struct {
	sender   Sender
	backups  Backups
	store    *state.Store
	operator io.Writer
	marker   string
	prefix   string
	logger   *slog.Logger
}

// NewRouter creates a router
func NewRouter(sender Sender, backups Backups, store *state.Store, opts Options) *Router {
	if opts.Marker == "" {
		opts.Marker = "!"
	}
	if opts.Operator == nil {
		opts.Operator = io.Discard
	}
	return &Router{
		sender:   sender,
		backups:  backups,
		store:    store,
		operator: opts.Operator,
		marker:   opts.Marker,
		prefix:   opts.BroadcastPrefix,
		logger:   logging.Component("command"),
	}
}

// HandleOperatorLine parses a console line and either dispatches it or
// forwards it verbatim to the server. Only failures to write to the server
// are returned.
func (r *Router) HandleOperatorLine(ctx context.Context, line string) error {
	cmd, err := Parse(line, r.marker)
	if err != nil {
		fmt.Fprintf(r.operator, "%v\n", err)
		return nil
	}
	if cmd.Kind == KindPassThrough {
		if err := r.sender.SendLine(cmd.Raw); err != nil {
			return fmt.Errorf("failed to forward console line: %w", err)
		}
		return nil
	}
	return r.Dispatch(ctx, cmd, SourceOperator, "")
}

// HandleChatLine inspects a line of server output for an embedded command
// from a super-user.
func (r *Router) HandleChatLine(ctx context.Context, line string) error {
	msg, ok := ParseChat(line, r.marker)
	if !ok {
		return nil
	}
	if !r.store.IsSuperUser(msg.User) {
		metrics.RecordDenied()
		r.logger.Debug("ignored chat command", "user", msg.User)
		return nil
	}

	cmd, err := Parse(msg.Command, r.marker)
	if err != nil {
		return r.broadcast(fmt.Sprintf("%s: %v", msg.User, err))
	}
	return r.Dispatch(ctx, cmd, SourceChat, msg.User)
}

// Dispatch executes a parsed command. user is the chat sender for
// SourceChat and empty for the operator.
func (r *Router) Dispatch(ctx context.Context, cmd Command, source Source, user string) error {
	if cmd.Kind != KindPassThrough {
		metrics.RecordCommand(cmd.Kind.String(), source.String())
		r.logger.Info("dispatching command", "kind", cmd.Kind.String(), "source", source.String(), "user", user)
	}

	switch cmd.Kind {
	case KindPassThrough:
		if err := r.sender.SendLine(cmd.Raw); err != nil {
			return fmt.Errorf("failed to forward line: %w", err)
		}
		return nil

	case KindGrant:
		name := state.NormalizeUser(cmd.User)
		if !r.store.Grant(name) {
			return r.reply(source, fmt.Sprintf("%s is already a super user", name))
		}
		return r.broadcast(fmt.Sprintf("%s is now a super user", name))

	case KindList:
		users := r.store.SuperUsers()
		text := "Super users: (none)"
		if len(users) > 0 {
			text = "Super users: " + strings.Join(users, ", ")
		}
		if source == SourceOperator {
			fmt.Fprintln(r.operator, text)
		} else {
			r.logger.Info(text, "requested_by", user)
		}
		return nil

	case KindSetIntervalMinutes, KindSetIntervalSeconds:
		interval := cmd.Interval()
		r.store.SetInterval(interval)
		return r.broadcast(fmt.Sprintf("Time between backups set to: %d seconds", int64(interval.Seconds())))

	case KindBackup:
		if r.backups == nil {
			return r.reply(source, "Backups are not configured")
		}
		_, err := r.backups.Run(ctx, source.String())
		if errors.Is(err, backup.ErrBackupInProgress) {
			return r.reply(source, "A backup is already in progress")
		}
		if err != nil {
			// The snapshot broadcasts its own failure.
			r.logger.Warn("manual backup failed", "source", source.String(), "error", err)
		}
		return nil

	default:
		return r.reply(source, fmt.Sprintf("%v: %s", ErrUnknownCommand, cmd.Raw))
	}
}

// reply reports to the issuer: the console for the operator, a broadcast
// for chat users.
func (r *Router) reply(source Source, text string) error {
	if source == SourceOperator {
		fmt.Fprintln(r.operator, text)
		return nil
	}
	return r.broadcast(text)
}

func (r *Router) broadcast(text string) error {
	if err := r.sender.SendLine(r.prefix + text); err != nil {
		return fmt.Errorf("failed to broadcast: %w", err)
	}
	return nil
}

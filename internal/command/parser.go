package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind identifies a parsed console line
type Kind int

const (
	KindPassThrough Kind = iota
	KindGrant
	KindList
	KindSetIntervalMinutes
	KindSetIntervalSeconds
	KindBackup
)

func (k Kind) String() string {
	switch k {
	case KindGrant:
		return "grant"
	case KindList:
		return "list"
	case KindSetIntervalMinutes:
		return "set_interval_minutes"
	case KindSetIntervalSeconds:
		return "set_interval_seconds"
	case KindBackup:
		return "backup"
	default:
		return "pass_through"
	}
}

// Command is the result of parsing one line
type Command struct {
	Kind   Kind
	User   string // KindGrant
	Amount int    // KindSetIntervalMinutes, KindSetIntervalSeconds
	Raw    string
}

// Interval returns the backup interval requested by an interval command
func (c Command) Interval() time.Duration {
	switch c.Kind {
	case KindSetIntervalMinutes:
		return time.Duration(c.Amount) * time.Minute
	case KindSetIntervalSeconds:
		return time.Duration(c.Amount) * time.Second
	default:
		return 0
	}
}

// Parse classifies a line. Lines not starting with marker are pass-through
// and keep their original text. The keyword is the first token after the
// marker; the argument is the rest of the line, trimmed.
func Parse(line, marker string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if marker == "" || !strings.HasPrefix(trimmed, marker) {
		return Command{Kind: KindPassThrough, Raw: line}, nil
	}

	body := strings.TrimPrefix(trimmed, marker)
	keyword, arg := body, ""
	if idx := strings.IndexAny(body, " \t"); idx >= 0 {
		keyword, arg = body[:idx], strings.TrimSpace(body[idx+1:])
	}
	keyword = strings.ToLower(keyword)

	cmd := Command{Raw: trimmed}
	switch keyword {
	case "su":
		if arg == "" {
			return Command{}, fmt.Errorf("%w: usage %ssu <username>", ErrMissingArgument, marker)
		}
		cmd.Kind = KindGrant
		cmd.User = arg
	case "list":
		cmd.Kind = KindList
	case "tbb", "tbbs":
		unit := time.Minute
		cmd.Kind = KindSetIntervalMinutes
		if keyword == "tbbs" {
			unit = time.Second
			cmd.Kind = KindSetIntervalSeconds
		}
		amount, err := parseAmount(marker+keyword, arg, unit)
		if err != nil {
			return Command{}, err
		}
		cmd.Amount = amount
	case "bu":
		cmd.Kind = KindBackup
	default:
		return Command{}, fmt.Errorf("%w: %s%s", ErrUnknownCommand, marker, keyword)
	}
	return cmd, nil
}

func parseAmount(name, arg string, unit time.Duration) (int, error) {
	if arg == "" {
		return 0, fmt.Errorf("%w: usage %s <integer>", ErrMissingArgument, name)
	}
	amount, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidArgument, name, arg)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidArgument, name, amount)
	}
	if int64(amount) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %s value %d is too large", ErrInvalidArgument, name, amount)
	}
	return amount, nil
}

package streamsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/pulse/internal/eventlog"
)

var (
	ErrLogUnavailable = errors.New("streams: log unavailable")
	ErrGroupExists    = errors.New("streams: consumer group already exists")
	ErrStreamMissing  = errors.New("streams: stream does not exist")
	ErrNoGroup        = errors.New("streams: no such consumer group")
	ErrInvalidID      = errors.New("streams: invalid record id")
)

// Provider tokens matched across wrapped error chains.
const (
	busyGroupToken = "BUSYGROUP"
	noSuchKeyToken = "no such key"
)

// IsGroupExists reports whether err signals an existing consumer group,
// either through the sentinel errors or a provider message anywhere in the
// chain of causes.
func IsGroupExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGroupExists) || errors.Is(err, eventlog.ErrGroupExists) {
		return true
	}
	return chainContains(err, busyGroupToken)
}

// IsStreamMissing reports whether err signals that the stream does not exist.
func IsStreamMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStreamMissing) || errors.Is(err, eventlog.ErrNoSuchStream) {
		return true
	}
	return chainContains(err, noSuchKeyToken)
}

// chainContains walks err and every cause reachable through Unwrap.
func chainContains(err error, token string) bool {
	for err != nil {
		if strings.Contains(err.Error(), token) {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if chainContains(e, token) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}
	return false
}

// classify maps backend errors onto the package taxonomy. Context errors
// pass through untouched so callers can tell cancellation from failure.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case IsGroupExists(err):
		return fmt.Errorf("%s: %w: %w", op, ErrGroupExists, err)
	case IsStreamMissing(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStreamMissing, err)
	case errors.Is(err, eventlog.ErrNoGroup):
		return fmt.Errorf("%s: %w", op, ErrNoGroup)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrLogUnavailable, err)
	}
}

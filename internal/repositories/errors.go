package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimpse/backend/internal/logging"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint
	// or a compare-and-swap precondition.
	ErrConflict = errors.New("record conflict")
	// ErrGroupNotFound is returned by Accept when the invited group no longer
	// exists. It matches ErrNotFound.
	ErrGroupNotFound = fmt.Errorf("group %w", ErrNotFound)
	// ErrMalformed indicates a stored document failed validation when read back.
	ErrMalformed = errors.New("malformed record")
)

// Quarantine logs a malformed record that a list read skipped.
func Quarantine(ctx context.Context, kind, id string, err error) {
	logging.FromContext(ctx).Warn("skipping malformed record",
		slog.String("kind", kind),
		slog.String("id", id),
		slog.Any("error", err),
	)
}

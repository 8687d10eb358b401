package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/brunoerg/fuzzamoto/internal/oracle"
	"github.com/brunoerg/fuzzamoto/internal/target"
)

// Default setup synchronization polling.
const (
	DefaultSyncTimeout = 10 * time.Second
	DefaultSyncPoll    = 10 * time.Millisecond
)

// SyncError reports that two targets did not reach the same tip during
// setup. The scenario cannot start without synced targets.
type SyncError struct {
	Timeout time.Duration
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("nodes failed to sync within %s: %v", e.Timeout, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// SyncNodes waits until a and b report the same tip, polling every poll
// for at most timeout.
func SyncNodes(ctx context.Context, a, b target.Target, timeout, poll time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, _, err := oracle.TipsAgree(ctx, a, b, poll); err != nil {
		return &SyncError{Timeout: timeout, Err: err}
	}
	return nil
}

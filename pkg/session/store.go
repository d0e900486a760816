// Package session persists confirmation sessions between gateway requests.
package session

import (
	"context"
	"errors"

	"github.com/carescore/platform/pkg/submission"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrLocked   = errors.New("session is busy")
)

// Store keeps session snapshots for a bounded time. Lock gives one caller
// exclusive use of a session; the returned release func is safe to call more
// than once.
type Store interface {
	Save(ctx context.Context, id string, snap submission.Snapshot) error
	Get(ctx context.Context, id string) (submission.Snapshot, error)
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (release func(), err error)
}

package coord

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COORDINATION - Who may place an order right now
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two layers protect the order path:
//   Guard  - in-process, one attempt in flight per instance
//   Leaser - cross-process, one live lease per resource across all instances
//
// A lease expires on its own after its TTL, so a crashed holder never blocks
// the fleet for longer than that. Release only removes a lease the caller
// still owns.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrInvalidLease is returned for an empty resource/owner or non-positive TTL
var ErrInvalidLease = errors.New("coord: resource, owner and ttl are required")

// Leaser grants short-lived exclusive leases
type Leaser interface {
	// TryAcquire takes the lease if nobody holds it. It never blocks waiting.
	TryAcquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	// Release drops the lease only when owner still holds it.
	Release(ctx context.Context, resource, owner string) (bool, error)
}

// NewOwner returns a unique owner token for one acquisition
func NewOwner() string {
	return uuid.NewString()
}

func validate(resource, owner string, ttl time.Duration) error {
	if resource == "" || owner == "" || ttl <= 0 {
		return ErrInvalidLease
	}
	return nil
}

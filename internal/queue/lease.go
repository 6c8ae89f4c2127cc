package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// LeaseStore persists named, time-bounded ownership records.
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

// Lease grants one holder at a time exclusive use of a named resource, such
// as the adaptive weights or the daily queue. An expired lease can be taken
// over, so a crashed holder never blocks others for longer than the TTL.
type Lease struct {
	store LeaseStore
	name  string
	owner string
	ttl   time.Duration
}

// NewLease creates a lease handle with a fresh owner id.
func NewLease(st LeaseStore, name string, ttl time.Duration) *Lease {
	return &Lease{store: st, name: name, owner: uuid.NewString(), ttl: ttl}
}

// Name returns the leased resource name.
func (l *Lease) Name() string { return l.name }

// Owner returns this handle's owner id.
func (l *Lease) Owner() string { return l.owner }

// Acquire takes or renews the lease. It reports false when another owner
// holds an unexpired lease.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.store.AcquireLease(ctx, l.name, l.owner, l.ttl)
	if err != nil {
		return false, eris.Wrapf(err, "lease: acquire %s", l.name)
	}
	return ok, nil
}

// Release gives the lease up if this handle still owns it.
func (l *Lease) Release(ctx context.Context) error {
	return eris.Wrapf(l.store.ReleaseLease(ctx, l.name, l.owner), "lease: release %s", l.name)
}

// WithLease runs fn while holding the named lease. It reports ran=false
// without calling fn when the lease is held elsewhere.
func WithLease(ctx context.Context, st LeaseStore, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	l := NewLease(st, name, ttl)
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer l.Release(context.WithoutCancel(ctx)) //nolint:errcheck
	return true, fn(ctx)
}

// Package isolated implements the IsolatedRunner: VM lock acquisition
// over a module's declared parallel labels, and the Agent protocol
// client that drives one execution end to end.
package isolated

import (
	"context"
	"fmt"
	"time"

	"github.com/fame/core/internal/store"
)

const (
	vmLockDocument  = "virtual_machines"
	staleLockAfter  = 120 * time.Minute
	labelPassPeriod = 15 * time.Second
)

// VMLock acquires the process-wide lock over a (driver,label) pair. The
// lock record lives in one internals document so every runner process
// observes the same state.
type VMLock struct {
	store store.Store

	// StaleAfter and PassPeriod default to the 120-minute/15-second
	// values above; tests override them to run fast.
	StaleAfter time.Duration
	PassPeriod time.Duration
}

// NewVMLock creates a VMLock backed by s.
func NewVMLock(s store.Store) *VMLock {
	return &VMLock{store: s, StaleAfter: staleLockAfter, PassPeriod: labelPassPeriod}
}

func lockKey(driver, label string) string {
	return driver + ":" + label
}

// Acquire tries each label in declaration order, looping full passes with
// a sleep between them, until one succeeds or ctx is canceled.
func (l *VMLock) Acquire(ctx context.Context, driver string, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("isolated: driver %s declares no labels", driver)
	}

	for {
		for _, label := range labels {
			acquired, err := l.store.AcquireLock(store.CollectionInternals, vmLockDocument, lockKey(driver, label), l.StaleAfter, time.Now())
			if err != nil {
				return "", fmt.Errorf("isolated: acquire lock %s/%s: %w", driver, label, err)
			}
			if acquired {
				return label, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.PassPeriod):
		}
	}
}

// Release frees a label previously won with Acquire.
func (l *VMLock) Release(driver, label string) error {
	if err := l.store.ReleaseLock(store.CollectionInternals, vmLockDocument, lockKey(driver, label)); err != nil {
		return fmt.Errorf("isolated: release lock %s/%s: %w", driver, label, err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrWriterActive is returned when another process already holds the writer
// lease on a shared backend.
var ErrWriterActive = errors.New("another instance holds the ledger writer lease")

// WriterLeaser is implemented by backends that several server processes could
// point at. Ledgers are cached and serialized per process, so only one
// process may write a shared backend at a time.
//
// AcquireWriter makes a single attempt. The lease is then refreshed until ctx
// is done and released afterwards; the returned channel is closed if the
// lease is lost first.
type WriterLeaser interface {
	AcquireWriter(ctx context.Context, owner string) (<-chan struct{}, error)
}

const (
	// LeaseTTL is how long a lease survives without a refresh.
	LeaseTTL = 30 * time.Second
	// LeaseRefresh is how often a held lease is renewed.
	LeaseRefresh = 10 * time.Second
)

type leaseTiming struct {
	ttl     time.Duration
	refresh time.Duration
}

func defaultLeaseTiming() leaseTiming {
	return leaseTiming{ttl: LeaseTTL, refresh: LeaseRefresh}
}

// holdLease renews a lease every refresh interval until ctx is done, then
// releases it. Transient renew errors are tolerated until the TTL would have
// run out; after that, or when renew reports another owner, lost is closed.
func holdLease(ctx context.Context, timing leaseTiming, renew func(context.Context) (bool, error), release func(context.Context), log logrus.FieldLogger) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		ticker := time.NewTicker(timing.refresh)
		defer ticker.Stop()
		renewed := time.Now()

		for {
			select {
			case <-ctx.Done():
				releaseCtx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
				release(releaseCtx)
				cancel()
				return
			case <-ticker.C:
				held, err := renew(ctx)
				if err == nil && held {
					renewed = time.Now()
					continue
				}
				if err != nil && time.Since(renewed) < timing.ttl {
					log.WithError(err).Warn("writer lease renewal failed, retrying")
					continue
				}
				log.WithError(err).Error("writer lease lost")
				close(lost)
				return
			}
		}
	}()
	return lost
}

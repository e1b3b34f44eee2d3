package jobs

import (
	"context"
	"time"

	"github.com/kinfolk/kinsync/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	// intentRetryAge keeps freshly written intents out of the retry sweep
	// while their first attempt may still be in flight.
	intentRetryAge    = 2 * time.Minute
	intentRetryBatch  = 20
	maxIntentAttempts = 10
)

// IntentRetry re-drives pending cross-system intents left behind by a
// partial failure, such as a person created remotely but never linked.
type IntentRetry struct {
	sync    *service.SyncService
	mapping *service.MappingService
	cron    string
}

func NewIntentRetry(sync *service.SyncService, mapping *service.MappingService, interval string) *IntentRetry {
	return &IntentRetry{
		sync:    sync,
		mapping: mapping,
		cron:    interval,
	}
}

func (r *IntentRetry) Schedule() string {
	return r.cron
}

func (r *IntentRetry) Run() {
	ctx := context.Background()

	intents, err := r.mapping.ListPendingIntents(ctx, time.Now().Add(-intentRetryAge), intentRetryBatch)
	if err != nil {
		logrus.Errorf("error listing pending intents: %v", err)
		return
	}

	for _, intent := range intents {
		if intent.Attempts >= maxIntentAttempts {
			if err := r.mapping.FailIntent(ctx, intent, "attempt limit reached"); err != nil {
				logrus.Errorf("error failing intent %d: %v", intent.ID, err)
			}
			continue
		}

		conn, err := r.sync.GetConnection(ctx, 0, intent.ConnectionID)
		if err != nil {
			logrus.Errorf("error loading connection for intent %d: %v", intent.ID, err)
			continue
		}
		if !conn.Active() {
			if err := r.mapping.FailIntent(ctx, intent, "connection revoked"); err != nil {
				logrus.Errorf("error failing intent %d: %v", intent.ID, err)
			}
			continue
		}

		if err := r.mapping.DriveCreateIntent(ctx, conn, intent); err != nil {
			logrus.Errorf("retry of intent %d failed: %v", intent.ID, err)
			continue
		}
		logrus.Infof("completed pending intent %d on connection %s", intent.ID, conn.ID)
	}
}

package jobs

import (
	"context"

	"github.com/kinfolk/kinsync/internal/service"
	"github.com/sirupsen/logrus"
)

// SyncRunner periodically pulls from every active connection so changes
// flow even when nobody triggers a sync by hand. A failing connection is
// logged and skipped, it never blocks the others.
type SyncRunner struct {
	sync *service.SyncService
	cron string
}

func NewSyncRunner(sync *service.SyncService, interval string) *SyncRunner {
	return &SyncRunner{
		sync: sync,
		cron: interval,
	}
}

func (r *SyncRunner) Schedule() string {
	return r.cron
}

func (r *SyncRunner) Run() {
	ctx := context.Background()

	conns, err := r.sync.ListActiveConnections(ctx)
	if err != nil {
		logrus.Errorf("error listing connections for periodic sync: %v", err)
		return
	}

	for _, conn := range conns {
		if _, err := r.sync.Run(ctx, conn); err != nil {
			logrus.Errorf("periodic sync on connection %s failed: %v", conn.ID, err)
		}
	}
}

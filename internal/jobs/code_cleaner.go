package jobs

import (
	"context"
	"time"

	"github.com/kinfolk/kinsync/internal/store"
	"github.com/sirupsen/logrus"
)

// CodeCleaner removes expired unconsumed pairing codes.
type CodeCleaner struct {
	store store.Store
	done  chan struct{}
}

// NewCodeCleaner creates a new CodeCleaner instance.
func NewCodeCleaner(store store.Store) *CodeCleaner {
	return &CodeCleaner{
		store: store,
		done:  make(chan struct{}),
	}
}

func (c *CodeCleaner) Stop() {
	close(c.done)
}

func (c *CodeCleaner) Run() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.clean()
		}
	}
}

func (c *CodeCleaner) clean() {
	removed, err := c.store.DeleteExpiredCodes(context.TODO(), time.Now())
	if err != nil {
		logrus.Error("error cleaning up expired pairing codes: ", err)
		return
	}
	if removed > 0 {
		logrus.Infof("removed %d expired pairing codes", removed)
	}
}

package proxy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const lockRetryDelay = 250 * time.Millisecond

// acquireLock serializes mutating commands on one configuration across
// processes. The container name alone is not a safe exclusion mechanism:
// two concurrent starts can both pass the already-running gate before
// either creates the container.
func (o *Orchestrator) acquireLock(ctx context.Context) (func(), error) {
	path := filepath.Join(o.lockDir, o.name+".lock")
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", path)
	}
	if !locked {
		return nil, errors.Errorf("another rds-proxy command holds the lock for %s", o.name)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warnf("release lock %s: %v", path, err)
		}
	}, nil
}

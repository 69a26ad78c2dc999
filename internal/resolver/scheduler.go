package resolver

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"k8s.io/klog/v2"
)

// defaultRefreshInterval is how often the host file is re-fetched in the
// background once the process is up.
const defaultRefreshInterval = 30 * time.Minute

// StartPeriodicRefresh does an initial synchronous fetch, then schedules a
// recurring background refresh. The returned scheduler's StopJobs (via
// gocron.Scheduler.Shutdown) should be called on process shutdown.
func (r *HostfileResolver) StartPeriodicRefresh(ctx context.Context) (gocron.Scheduler, error) {
	if err := r.Refresh(ctx); err != nil {
		klog.Warningf("hostfile: initial refresh failed, starting with an empty cache: %v", err)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(defaultRefreshInterval),
		gocron.NewTask(func() {
			if err := r.Refresh(ctx); err != nil {
				klog.Warningf("hostfile: periodic refresh failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}

package modelsync

import (
	"sync"

	"github.com/robfig/cron/v3"
)

// Janitor periodically logs a diagnostics sweep (live Model count,
// per-Model pending-confirmation count and Stream state) through a
// ModelsClient's Logger. It is defence-in-depth observability alongside
// the per-PendingConfirmation timers, not a correctness mechanism: nothing
// here ever mutates a Model. Adapted down from the teacher's
// modules/scheduler (a full job-store/catch-up/retry-policy scheduler) to
// the one recurring job this domain needs, using the same
// github.com/robfig/cron/v3 engine.
type Janitor struct {
	client   *ModelsClient
	logger   Logger
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	started bool
}

// NewJanitor constructs a Janitor that will sweep client's Diagnostics on
// the given standard cron schedule (e.g. "*/1 * * * *" for once a minute)
// when Start is called. A disabled janitor (schedule == "") is valid and
// Start is simply a no-op for it.
func NewJanitor(client *ModelsClient, logger Logger, schedule string) *Janitor {
	return &Janitor{client: client, logger: orNoopLogger(logger), schedule: schedule}
}

// Start begins the recurring sweep. Calling Start on a disabled Janitor
// (constructed with an empty schedule) or twice on an already-started one
// is a no-op.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.schedule == "" || j.started {
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(j.schedule, j.sweep)
	if err != nil {
		return err
	}
	c.Start()

	j.cron = c
	j.entryID = id
	j.started = true
	return nil
}

// Stop halts the recurring sweep. Idempotent.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.cron = nil
	j.started = false
}

func (j *Janitor) sweep() {
	diagnostics := j.client.Diagnostics()
	j.logger.Info("janitor sweep", "models", len(diagnostics))
	for _, d := range diagnostics {
		j.logger.Info("model diagnostics",
			"model", d.Name,
			"state", string(d.State),
			"pendingCount", d.PendingCount,
			"streamState", d.StreamState,
		)
	}
}

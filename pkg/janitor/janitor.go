// Package janitor archives finished calls out of the live tracker on a cron
// schedule so the per-call lock map and session map stay bounded across long
// runs. Archived calls remain in the message history; only tracker state is
// released.
package janitor

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

// Janitor periodically archives terminal calls older than the retention
// window.
type Janitor struct {
	calls     *app.CallService
	schedule  string
	retention time.Duration
	gron      *gronx.Gronx
}

// New creates a janitor. schedule is a five-field cron expression; retention
// is how long a terminal call stays in the tracker before archival.
func New(calls *app.CallService, schedule string, retention time.Duration) *Janitor {
	return &Janitor{
		calls:     calls,
		schedule:  schedule,
		retention: retention,
		gron:      gronx.New(),
	}
}

// ValidSchedule reports whether the cron expression parses.
func ValidSchedule(expr string) bool {
	return gronx.New().IsValid(expr)
}

// Run checks the schedule once a minute and sweeps when it is due. Blocks
// until ctx is cancelled; run it in a goroutine.
func (j *Janitor) Run(ctx context.Context) {
	logger.InfoCF("janitor", "Janitor started", map[string]interface{}{
		"schedule":  j.schedule,
		"retention": j.retention.String(),
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("janitor", "Janitor stopped")
			return
		case now := <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, now)
			if err != nil {
				logger.ErrorCF("janitor", "Bad cron expression", map[string]interface{}{
					"schedule": j.schedule,
					"error":    err.Error(),
				})
				return
			}
			if due {
				j.Sweep(now)
			}
		}
	}
}

// Sweep archives every terminal call whose last update is older than the
// retention window. Returns the number archived.
func (j *Janitor) Sweep(now time.Time) int {
	calls, err := j.calls.ListAll()
	if err != nil {
		logger.ErrorCF("janitor", "Sweep failed", map[string]interface{}{"error": err.Error()})
		return 0
	}

	archived := 0
	for _, c := range calls {
		if !c.Status.Terminal() {
			continue
		}
		if now.Sub(c.UpdatedAt.Time) < j.retention {
			continue
		}
		if err := j.calls.Archive(c.Sid); err != nil {
			logger.WarnCF("janitor", "Archive failed", map[string]interface{}{
				"sid":   c.Sid,
				"error": err.Error(),
			})
			continue
		}
		archived++
	}

	if archived > 0 {
		logger.InfoCF("janitor", "Swept terminal calls", map[string]interface{}{
			"archived": archived,
		})
	}
	return archived
}

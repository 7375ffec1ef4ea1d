package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/eventbus"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/persistence"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

type nullPublisher struct{}

func (nullPublisher) Publish(ev wire.Event) error { return nil }

type nullProvider struct{}

func (nullProvider) Reply(ctx context.Context, turns []call.Turn, userText string) (string, error) {
	return "", errors.New("not used")
}

func newTracker(t *testing.T) (*app.CallService, call.Repository) {
	t.Helper()
	repo := persistence.NewMemoryCallRepository()
	return app.NewCallService(repo, eventbus.New(), nullPublisher{}, nullProvider{}, 0), repo
}

func TestSweepArchivesOldTerminalCalls(t *testing.T) {
	svc, repo := newTracker(t)
	now := time.Now()

	add := func(sid string, status call.Status, age time.Duration) {
		c := call.NewCall(sid, "+15551234567")
		c.Status = status
		c.UpdatedAt = domain.TimestampFrom(now.Add(-age))
		c.PullEvents()
		if err := repo.Save(c); err != nil {
			t.Fatalf("save %s: %v", sid, err)
		}
	}

	add("CAold-done", call.StatusCompleted, 2*time.Hour)
	add("CAfresh-done", call.StatusCompleted, time.Minute)
	add("CAold-live", call.StatusAnswered, 2*time.Hour)
	add("CAold-failed", call.StatusFailed, 2*time.Hour)

	j := New(svc, "*/10 * * * *", time.Hour)
	archived := j.Sweep(now)
	if archived != 2 {
		t.Fatalf("archived %d calls, want 2", archived)
	}

	for _, sid := range []string{"CAold-done", "CAold-failed"} {
		if _, err := svc.Get(sid); !errors.Is(err, call.ErrCallNotFound) {
			t.Errorf("%s should be archived, got err = %v", sid, err)
		}
	}
	for _, sid := range []string{"CAfresh-done", "CAold-live"} {
		if _, err := svc.Get(sid); err != nil {
			t.Errorf("%s should survive the sweep: %v", sid, err)
		}
	}
}

func TestSweepEmptyTracker(t *testing.T) {
	svc, _ := newTracker(t)
	j := New(svc, "*/10 * * * *", time.Hour)
	if n := j.Sweep(time.Now()); n != 0 {
		t.Errorf("archived %d calls from empty tracker, want 0", n)
	}
}

func TestValidSchedule(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"*/10 * * * *", true},
		{"0 3 * * *", true},
		{"* * * * *", true},
		{"", false},
		{"every ten minutes", false},
		{"61 * * * *", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := ValidSchedule(tt.expr); got != tt.want {
				t.Errorf("ValidSchedule(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

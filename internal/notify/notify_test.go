package notify

import (
	"context"
	"testing"
	"time"
)

type recording struct {
	subjects []string
}

func (r *recording) NotifyAdmin(_ context.Context, subject, _ string) {
	r.subjects = append(r.subjects, subject)
}

func TestThrottled_SuppressesRepeats(t *testing.T) {
	rec := &recording{}
	th := NewThrottled(rec, time.Hour)
	now := time.Unix(1000, 0)
	th.now = func() time.Time { return now }

	th.NotifyAdmin(context.Background(), "fraud", "claim 1")
	th.NotifyAdmin(context.Background(), "fraud", "claim 1 again")
	th.NotifyAdmin(context.Background(), "divergence", "claim 2")

	if len(rec.subjects) != 2 {
		t.Fatalf("delivered %d alerts, want 2: %v", len(rec.subjects), rec.subjects)
	}

	now = now.Add(2 * time.Hour)
	th.NotifyAdmin(context.Background(), "fraud", "claim 3")
	if len(rec.subjects) != 3 {
		t.Fatalf("alert after window not delivered: %v", rec.subjects)
	}
}

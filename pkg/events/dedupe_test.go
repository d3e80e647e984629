package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type nopSender struct{}

func (nopSender) LogEvents(context.Context, any) error { return nil }
func (nopSender) SendBeacon([]byte) bool               { return true }

func seenSize(l *Logger) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func TestSeenSweptOnFlush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := New(nopSender{}, WithDedupeWindow(10*time.Millisecond))
	defer l.Shutdown(ctx)

	for i := 0; i < 5; i++ {
		l.Log(Event{
			EventName: GateExposureEventName,
			Metadata:  map[string]string{"gate": fmt.Sprintf("g%d", i)},
			Time:      time.Now().UnixMilli(),
		})
	}
	assert.Equal(t, 5, seenSize(l))

	time.Sleep(20 * time.Millisecond)
	l.Flush(ctx, false)
	assert.Zero(t, seenSize(l), "expired dedupe entries are swept, not kept for the session")
}

func TestSeenSweepKeepsLiveEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := New(nopSender{}, WithDedupeWindow(time.Hour))
	defer l.Shutdown(ctx)

	l.Log(Event{
		EventName: GateExposureEventName,
		Metadata:  map[string]string{"gate": "g"},
		Time:      time.Now().UnixMilli(),
	})
	l.Flush(ctx, false)
	assert.Equal(t, 1, seenSize(l), "entries inside the window survive the sweep")
}

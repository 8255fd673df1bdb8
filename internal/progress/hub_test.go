package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iago/lead-intel/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, sub *Subscription) domain.ProgressEvent {
	t.Helper()
	select {
	case event, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.ProgressEvent{}
	}
}

func TestHubDeliversToRoomOnly(t *testing.T) {
	hub := NewHub(16, 16)
	defer hub.Close()

	a := hub.Subscribe("job-a")
	defer a.Close()
	b := hub.Subscribe("job-b")
	defer b.Close()

	Emit(hub, "job-a", domain.JobStatusDiscovering, "found %d sources", 3)

	event := receive(t, a)
	assert.Equal(t, "found 3 sources", event.Message)
	assert.Equal(t, domain.JobStatusDiscovering, event.Status)
	assert.False(t, event.Timestamp.IsZero())

	select {
	case unexpected := <-b.C:
		t.Fatalf("job-b received %v", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubPreservesOrderPerSubscriber(t *testing.T) {
	hub := NewHub(16, 16)
	defer hub.Close()
	sub := hub.Subscribe("job")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		Emit(hub, "job", "", "step %d", i)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, "step "+string(rune('0'+i)), receive(t, sub).Message)
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub(64, 2)
	defer hub.Close()
	sub := hub.Subscribe("job")
	defer sub.Close()

	start := time.Now()
	for i := 0; i < 20; i++ {
		Emit(hub, "job", "", "event %d", i)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool { return hub.Dropped() >= 18 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sub.C, 2)
}

func TestHubPublishNeverBlocksWhenInputIsFull(t *testing.T) {
	hub := NewHub(1, 1)
	hub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish("job", domain.ProgressEvent{Message: "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Equal(t, int64(100), hub.Dropped())
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(4, 4)
	sub := hub.Subscribe("job")
	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	other := hub.Subscribe("job")
	hub.Close()
	_, ok = <-other.C
	assert.False(t, ok)
	other.Close()
}

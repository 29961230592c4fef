package reconciliation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-engine/internal/models"
)

func drain(ch <-chan ProgressEvent) []ProgressEvent {
	var out []ProgressEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestProgressHub_MonotonicAndTerminal(t *testing.T) {
	hub := NewProgressHub(0)
	id := uuid.New()

	_, _, ok := hub.Subscribe(id)
	assert.False(t, ok)

	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateUpload})
	ch, _, ok := hub.Subscribe(id)
	require.True(t, ok)

	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateParsing, Current: 30})
	got := hub.Publish(ProgressEvent{SessionID: id, Step: models.StateMatching, Current: 20})
	assert.Equal(t, 30, got.Current)
	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateCompleted, Current: 120})
	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateMatching, Current: 50})

	events := drain(ch)
	require.Len(t, events, 4)
	assert.Equal(t, models.StateUpload, events[0].Step)
	assert.Equal(t, []int{0, 30, 30, 100}, []int{events[0].Current, events[1].Current, events[2].Current, events[3].Current})
	assert.Equal(t, models.StateCompleted, events[3].Step)

	last, ok := hub.Last(id)
	require.True(t, ok)
	assert.True(t, last.Terminal())

	// late subscribers get the terminal event on a closed channel
	late, _, ok := hub.Subscribe(id)
	require.True(t, ok)
	assert.Equal(t, []ProgressEvent{last}, drain(late))

	hub.Forget(id)
	_, ok = hub.Last(id)
	assert.False(t, ok)
}

func TestProgressHub_SlowSubscriberStillSeesTerminal(t *testing.T) {
	hub := NewProgressHub(0)
	id := uuid.New()
	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateUpload})
	ch, _, _ := hub.Subscribe(id)

	for i := 1; i <= subscriberBuffer*2; i++ {
		hub.Publish(ProgressEvent{SessionID: id, Step: models.StateMatching, Current: i})
	}
	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateFailed, ErrorCode: "INTERNAL"})

	events := drain(ch)
	require.Len(t, events, subscriberBuffer)
	end := events[len(events)-1]
	assert.Equal(t, models.StateFailed, end.Step)
	assert.Equal(t, "INTERNAL", end.ErrorCode)
	assert.Equal(t, subscriberBuffer*2, end.Current)
}

func TestProgressHub_CancelStopsDelivery(t *testing.T) {
	hub := NewProgressHub(0)
	id := uuid.New()
	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateUpload})
	ch, cancel, _ := hub.Subscribe(id)
	cancel()
	cancel()

	hub.Publish(ProgressEvent{SessionID: id, Step: models.StateParsing, Current: 5})
	assert.Len(t, drain(ch), 1)
}

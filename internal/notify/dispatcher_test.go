package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grcflow/internal/logging"
)

type recordingSender struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (r *recordingSender) Send(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery refused")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, logging.NewLogger())

	d.Publish(Event{Type: EventStepStarted, InstanceID: "a", OccurredAt: time.Now()})
	d.Publish(Event{Type: EventInstanceCompleted, InstanceID: "a", OccurredAt: time.Now()})
	d.Close()

	require.Equal(t, 2, sender.count())
	assert.Equal(t, EventStepStarted, sender.events[0].Type)
	assert.Equal(t, EventInstanceCompleted, sender.events[1].Type)
}

func TestDispatcherSurvivesSenderFailure(t *testing.T) {
	sender := &recordingSender{fail: true}
	d := NewDispatcher(sender, logging.NewLogger())

	d.Publish(Event{Type: EventStepStarted, InstanceID: "a"})
	d.Close()

	assert.Equal(t, 0, sender.count())

	// Close is idempotent
	d.Close()
}

package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/kafka"
)

type recordingPublisher struct {
	events []kafka.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, events ...kafka.Event) error {
	r.events = append(r.events, events...)
	return r.err
}

func TestIndexUpdatedEvent(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(pub, "movies")
	wm := time.Date(2021, 6, 16, 20, 14, 9, 221838000, time.FixedZone("MSK", 3*3600))

	n.IndexUpdated(context.Background(), "person", []string{"fw-1", "fw-2"}, wm)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "person", pub.events[0].Key)
	event, ok := pub.events[0].Value.(IndexUpdated)
	require.True(t, ok)
	assert.Equal(t, "movies", event.Index)
	assert.Equal(t, []string{"fw-1", "fw-2"}, event.DocumentIDs)
	assert.True(t, event.Watermark.Equal(wm))
	assert.Equal(t, time.UTC, event.Watermark.Location())
}

func TestIndexUpdatedSwallowsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unreachable")}
	n := NewNotifier(pub, "movies")
	assert.NotPanics(t, func() {
		n.IndexUpdated(context.Background(), "genre", nil, time.Now())
	})
	assert.Len(t, pub.events, 1)
}

func TestWakeHandlerCoalesces(t *testing.T) {
	wake := make(chan struct{}, 1)
	handle := WakeHandler(wake)

	require.NoError(t, handle(context.Background(), nil, []byte(`{"reason":"manual"}`)))
	require.NoError(t, handle(context.Background(), nil, []byte(`{"reason":"manual","table":"person"}`)))
	assert.Len(t, wake, 1)

	<-wake
	assert.Error(t, handle(context.Background(), nil, []byte(`not json`)))
	assert.Len(t, wake, 0)
}

package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicLiquidation)
	defer sub.Close()

	b.Publish(TopicLiquidation, "a")
	b.Publish(TopicLiquidation, "b")

	require.Equal(t, "a", <-sub.Messages())
	require.Equal(t, "b", <-sub.Messages())
}

func TestSlowSubscriberDroppedNotBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicOrder)
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(TopicOrder, i)
	}

	// Publisher must not have blocked; draining should yield at most the
	// buffered messages without a deadlock.
	select {
	case <-sub.Messages():
	case <-time.After(time.Second):
		t.Fatal("expected a buffered message, publish should never block")
	}
}

func TestSnapshotReplaysRingBuffer(t *testing.T) {
	b := New()
	b.Publish(TopicVWAP, 1)
	b.Publish(TopicVWAP, 2)
	b.Publish(TopicVWAP, 3)

	snap := b.Snapshot(TopicVWAP)
	require.Equal(t, []interface{}{1, 2, 3}, snap)
}

func TestIndependentTopics(t *testing.T) {
	b := New()
	b.Publish(TopicError, "err")
	require.Empty(t, b.Snapshot(TopicPosition))
	require.Len(t, b.Snapshot(TopicError), 1)
}

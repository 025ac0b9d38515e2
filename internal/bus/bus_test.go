package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() (*Bus, Subjects) {
	acl := NewACL(
		ACLRule{Identity: "cortex", SubjectPrefix: "ns.cmd.execution", CanPublish: true},
		ACLRule{Identity: "motor", SubjectPrefix: "ns.cmd.execution", CanSubscribe: true},
		ACLRule{Identity: "motor", SubjectPrefix: "ns.evt", CanPublish: true},
		ACLRule{Identity: "cortex", SubjectPrefix: "ns.evt", CanSubscribe: true},
	)
	transport := NewMemoryTransport(0)
	cursors := NewMemoryCursorStore()
	return New(transport, acl, cursors), Subjects{Namespace: "ns"}
}

func TestPublishSubscribe_ACLAllows(t *testing.T) {
	b, subj := testBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "motor", "motor-1", subj.IntentPlace("BTC-USD"), StreamCommands, 8)
	require.NoError(t, err)
	defer sub.Close()

	_, err = b.Publish(ctx, "cortex", subj.IntentPlace("BTC-USD"), StreamCommands, []byte(`{"intent_id":"abc"}`))
	require.NoError(t, err)

	select {
	case msg := <-sub.Messages:
		assert.Equal(t, `{"intent_id":"abc"}`, string(msg.Payload))
		require.NoError(t, sub.Ack(ctx, msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublish_DeniedByACL(t *testing.T) {
	b, subj := testBus()
	ctx := context.Background()

	_, err := b.Publish(ctx, "motor", subj.IntentPlace("BTC-USD"), StreamCommands, []byte("x"))
	assert.Error(t, err)
	var aclErr *ACLDeniedError
	assert.ErrorAs(t, err, &aclErr)
}

func TestSubscribe_ResumesFromDurableCursor(t *testing.T) {
	b, subj := testBus()
	ctx := context.Background()
	subject := subj.IntentPlace("ETH-USD")

	_, err := b.Publish(ctx, "cortex", subject, StreamCommands, []byte("first"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, "cortex", subject, StreamCommands, []byte("second"))
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, "motor", "motor-1", subject, StreamCommands, 8)
	require.NoError(t, err)

	first := <-sub.Messages
	require.NoError(t, sub.Ack(ctx, first))
	sub.Close()

	resumed, err := b.Subscribe(ctx, "motor", "motor-1", subject, StreamCommands, 8)
	require.NoError(t, err)
	defer resumed.Close()

	select {
	case msg := <-resumed.Messages:
		assert.Equal(t, "second", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resumed message")
	}
}

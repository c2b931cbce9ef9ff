package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	tests := []struct {
		name    string
		subject string
	}{
		{name: "simple subject", subject: "council.register"},
		{name: "reply channel subject", subject: "council.reply.worker-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMemoryBus()
			defer b.Close()

			sub, err := b.Subscribe(context.Background(), tt.subject)
			require.NoError(t, err)
			defer sub.Unsubscribe()

			require.NoError(t, b.Publish(context.Background(), tt.subject, []byte("hello")))

			select {
			case msg := <-sub.C:
				assert.Equal(t, tt.subject, msg.Subject)
				assert.Equal(t, []byte("hello"), msg.Payload)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for message")
			}
		})
	}
}

func TestMemoryBus_NoCrossSubjectDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "subject-a")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "subject-b", []byte("nope")))

	select {
	case <-sub.C:
		t.Fatal("subject-a subscriber should not receive subject-b messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "subject")
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "subject", []byte("x")))

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestMemoryBus_CloseRejectsFurtherUse(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	_, err := b.Subscribe(context.Background(), "subject")
	assert.ErrorIs(t, err, ErrClosed)

	err = b.Publish(context.Background(), "subject", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

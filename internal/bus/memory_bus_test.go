// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicScan)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, b.Publish(context.Background(), TopicScan, Message{Kind: "media", Force: true}))

	select {
	case msg := <-sub.C():
		require.Equal(t, "media", msg.Kind)
		require.True(t, msg.Force)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryBusPublishContextTimeout(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicScan)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	// Fill subscriber channel to capacity so the next publish blocks.
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), TopicScan, Message{Kind: "media"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, TopicScan, Message{Kind: "media"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBusPublishRejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	err := b.Publish(nil, TopicScan, Message{Kind: "media"}) //nolint:staticcheck
	require.Error(t, err)
	require.Contains(t, err.Error(), "context is nil")
}

func TestMemoryBusCloseRemovesSubscription(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicScan)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// Publish after close delivers nowhere and does not block.
	require.NoError(t, b.Publish(context.Background(), TopicScan, Message{Kind: "media"}))

	_, open := <-sub.C()
	require.False(t, open)
}

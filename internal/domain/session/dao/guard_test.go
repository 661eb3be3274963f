package dao

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/session/entity"
)

func TestLocalGuard_Exclusive(t *testing.T) {
	ctx := context.Background()
	g := NewLocalGuard()

	unlock, err := g.TryLock(ctx, "instagram:alice", time.Minute)
	require.NoError(t, err)

	_, err = g.TryLock(ctx, "instagram:alice", time.Minute)
	assert.ErrorIs(t, err, entity.ErrOperationInProgress)

	_, err = g.TryLock(ctx, "instagram:bob", time.Minute)
	assert.NoError(t, err)

	unlock()
	_, err = g.TryLock(ctx, "instagram:alice", time.Minute)
	assert.NoError(t, err)
}

func TestLocalGuard_ExpiredHolderCannotReleaseNewHold(t *testing.T) {
	ctx := context.Background()
	g := NewLocalGuard()

	staleUnlock, err := g.TryLock(ctx, "tiktok:alice", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	unlock, err := g.TryLock(ctx, "tiktok:alice", time.Minute)
	require.NoError(t, err)

	staleUnlock()
	_, err = g.TryLock(ctx, "tiktok:alice", time.Minute)
	assert.ErrorIs(t, err, entity.ErrOperationInProgress)

	unlock()
	_, err = g.TryLock(ctx, "tiktok:alice", time.Minute)
	assert.NoError(t, err)
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/credit/dao"
	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
)

func fundedMeter(t *testing.T, credits int64) (*Meter, *dao.CreditMemory) {
	t.Helper()
	store := dao.NewCreditMemory()
	require.NoError(t, store.CreatePurchase(context.Background(), &entity.Purchase{
		ID:      "seed",
		OwnerID: "owner-1",
		Credits: credits,
		Status:  entity.PurchasePending,
	}))
	ok, err := store.CompletePurchase(context.Background(), "seed", entity.PurchaseApproved, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	costs := map[string]int64{"ai_caption": 1, "AI_Image": 5}
	return NewMeter(store, costs, discardLogger()), store
}

func TestMeter_ChargeIsIdempotent(t *testing.T) {
	m, _ := fundedMeter(t, 10)
	runs := 0
	run := func(ctx context.Context) error {
		runs++
		return nil
	}

	res, err := m.Charge(context.Background(), "owner-1", "ai_image", "req-1", run)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Cost)
	assert.Equal(t, int64(5), res.Balance)
	assert.False(t, res.Replayed)

	res, err = m.Charge(context.Background(), "owner-1", "ai_image", "req-1", run)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(5), res.Balance)
	assert.Equal(t, 1, runs)
}

func TestMeter_FailedRunReleasesReservation(t *testing.T) {
	m, store := fundedMeter(t, 3)

	_, err := m.Charge(context.Background(), "owner-1", "ai_caption", "req-1", func(ctx context.Context) error {
		return errors.New("model unavailable")
	})
	assert.EqualError(t, err, "model unavailable")

	bal, err := store.GetBalance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Credits)

	entry, err := store.GetEntry(context.Background(), "op:owner-1:req-1")
	require.NoError(t, err)
	assert.Equal(t, entity.LedgerReleased, entry.Status)

	// the same key can be charged again after a refund
	res, err := m.Charge(context.Background(), "owner-1", "ai_caption", "req-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Balance)
}

func TestMeter_Errors(t *testing.T) {
	m, _ := fundedMeter(t, 4)

	tests := []struct {
		name      string
		owner     string
		operation string
		wantErr   error
	}{
		{name: "insufficient credits", owner: "owner-1", operation: "ai_image", wantErr: entity.ErrInsufficientCredits},
		{name: "unknown operation", owner: "owner-1", operation: "ai_music", wantErr: entity.ErrUnknownOperation},
		{name: "no owner", owner: "", operation: "ai_caption", wantErr: entity.ErrEmptyOwner},
		{name: "unfunded owner", owner: "owner-2", operation: "ai_caption", wantErr: entity.ErrInsufficientCredits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Charge(context.Background(), tt.owner, tt.operation, "", nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMeter_ConcurrentReservationIsInProgress(t *testing.T) {
	m, _ := fundedMeter(t, 10)
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = m.Charge(context.Background(), "owner-1", "ai_caption", "req-1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	_, err := m.Charge(context.Background(), "owner-1", "ai_caption", "req-1", nil)
	assert.ErrorIs(t, err, entity.ErrChargeInProgress)
	close(release)
}

func TestMeter_AbandonedReservationIsReclaimed(t *testing.T) {
	_, store := fundedMeter(t, 10)
	ctx := context.Background()

	// a previous holder reserved and never committed
	_, created, err := store.Reserve(ctx, "owner-1", "op:owner-1:req-9", "ai_image", 5)
	require.NoError(t, err)
	require.True(t, created)

	costs := map[string]int64{"ai_image": 5}
	fresh := NewMeter(store, costs, discardLogger(), WithReservationTTL(10*time.Minute))
	_, err = fresh.Charge(ctx, "owner-1", "ai_image", "req-9", nil)
	assert.ErrorIs(t, err, entity.ErrChargeInProgress)

	later := NewMeter(store, costs, discardLogger(), WithReservationTTL(10*time.Minute),
		WithMeterClock(func() time.Time { return time.Now().Add(11 * time.Minute) }))
	runs := 0
	res, err := later.Charge(ctx, "owner-1", "ai_image", "req-9", func(ctx context.Context) error {
		runs++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(5), res.Balance)
	assert.Equal(t, 1, runs)

	entry, err := store.GetEntry(ctx, "op:owner-1:req-9")
	require.NoError(t, err)
	assert.Equal(t, entity.LedgerCommitted, entry.Status)
}

type commitFailingStore struct {
	*dao.CreditMemory
}

func (s commitFailingStore) Commit(ctx context.Context, reference string) error {
	return errors.New("connection reset")
}

func TestMeter_CommitFailureReleasesReservation(t *testing.T) {
	_, store := fundedMeter(t, 10)
	ctx := context.Background()
	m := NewMeter(commitFailingStore{store}, map[string]int64{"ai_caption": 1}, discardLogger())

	_, err := m.Charge(ctx, "owner-1", "ai_caption", "req-1", nil)
	assert.ErrorContains(t, err, "connection reset")

	bal, err := store.GetBalance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal.Credits)

	entry, err := store.GetEntry(ctx, "op:owner-1:req-1")
	require.NoError(t, err)
	assert.Equal(t, entity.LedgerReleased, entry.Status)

	// the key is usable again once the store recovers
	res, err := NewMeter(store, map[string]int64{"ai_caption": 1}, discardLogger()).Charge(ctx, "owner-1", "ai_caption", "req-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Balance)
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/credit/dao"
	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
	"github.com/vadim/neo-publisher/internal/poll"
)

// --- Mocks ---

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Charge), args.Error(1)
}

func (m *MockGateway) GetCharge(ctx context.Context, id string) (*Charge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Charge), args.Error(1)
}

func (m *MockGateway) CancelCharge(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, gw Gateway) (*Service, *dao.CreditMemory) {
	t.Helper()
	store := dao.NewCreditMemory()
	svc := New(store, gw, Config{PollInterval: 5 * time.Millisecond, PollTimeout: time.Second}, discardLogger())
	t.Cleanup(svc.Shutdown)
	return svc, store
}

func seedPurchase(t *testing.T, store *dao.CreditMemory, owner string) *entity.Purchase {
	t.Helper()
	p := &entity.Purchase{
		ID:            "pur-1",
		OwnerID:       owner,
		PackageSlug:   "starter",
		Credits:       100,
		AmountCents:   1990,
		Currency:      "BRL",
		PaymentMethod: entity.MethodPix,
		Status:        entity.PurchasePending,
		GatewayID:     "ch_1",
		Reference:     "ref",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, store.CreatePurchase(context.Background(), p))
	return p
}

func pending() *Charge  { return &Charge{ID: "ch_1", Status: entity.PurchasePending} }
func approved() *Charge { return &Charge{ID: "ch_1", Status: entity.PurchaseApproved} }

// --- Tests ---

func TestConfirm_ApprovedOnSecondPollCreditsExactlyOnce(t *testing.T) {
	gw := &MockGateway{}
	gw.On("GetCharge", mock.Anything, "ch_1").Return(pending(), nil).Once()
	gw.On("GetCharge", mock.Anything, "ch_1").Return(approved(), nil)

	svc, store := newService(t, gw)
	seedPurchase(t, store, "owner-1")

	var updates []entity.PurchaseStatus
	p, err := svc.Confirm(context.Background(), "pur-1", func(p *entity.Purchase) {
		updates = append(updates, p.Status)
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, entity.PurchaseApproved, p.Status)
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, []entity.PurchaseStatus{entity.PurchasePending, entity.PurchaseApproved}, updates)

	// terminal purchases are not re-applied
	_, err = svc.RefreshStatus(context.Background(), "pur-1")
	require.NoError(t, err)

	bal, err := svc.GetBalance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Credits)
	gw.AssertNumberOfCalls(t, "GetCharge", 2)
}

func TestConfirm_TimeoutLeavesPurchasePending(t *testing.T) {
	gw := &MockGateway{}
	gw.On("GetCharge", mock.Anything, "ch_1").Return(pending(), nil)

	svc, store := newService(t, gw)
	seedPurchase(t, store, "owner-1")

	p, err := svc.Confirm(context.Background(), "pur-1", nil, 30*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	require.NotNil(t, p)
	assert.Equal(t, entity.PurchasePending, p.Status)

	bal, err := svc.GetBalance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Zero(t, bal.Credits)
}

func TestConfirm_GatewayErrorsAreRetried(t *testing.T) {
	gw := &MockGateway{}
	gw.On("GetCharge", mock.Anything, "ch_1").Return(nil, errors.New("502 bad gateway")).Once()
	gw.On("GetCharge", mock.Anything, "ch_1").Return(approved(), nil)

	svc, store := newService(t, gw)
	seedPurchase(t, store, "owner-1")

	p, err := svc.Confirm(context.Background(), "pur-1", nil, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, entity.PurchaseApproved, p.Status)
}

func TestRefreshStatus_ConcurrentApprovalCreditsOnce(t *testing.T) {
	gw := &MockGateway{}
	gw.On("GetCharge", mock.Anything, "ch_1").Return(approved(), nil)

	svc, store := newService(t, gw)
	seedPurchase(t, store, "owner-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.RefreshStatus(context.Background(), "pur-1")
		}()
	}
	wg.Wait()

	bal, err := svc.GetBalance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Credits)
}

func TestPurchase(t *testing.T) {
	tests := []struct {
		name    string
		input   PurchaseInput
		wantErr error
	}{
		{name: "pix with valid cpf", input: PurchaseInput{OwnerID: "o", PackageSlug: "starter", Method: "pix", CPF: "529.982.247-25"}},
		{name: "card without cpf", input: PurchaseInput{OwnerID: "o", PackageSlug: "pro", Method: "credit_card"}},
		{name: "pix with invalid cpf", input: PurchaseInput{OwnerID: "o", PackageSlug: "starter", Method: "pix", CPF: "123.456.789-00"}, wantErr: entity.ErrInvalidCPF},
		{name: "unknown package", input: PurchaseInput{OwnerID: "o", PackageSlug: "gold", Method: "pix", CPF: "52998224725"}, wantErr: entity.ErrPackageNotFound},
		{name: "unknown method", input: PurchaseInput{OwnerID: "o", PackageSlug: "starter", Method: "boleto"}, wantErr: entity.ErrInvalidPaymentMethod},
		{name: "no owner", input: PurchaseInput{PackageSlug: "starter", Method: "pix"}, wantErr: entity.ErrEmptyOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &MockGateway{}
			gw.On("CreateCharge", mock.Anything, mock.Anything).
				Return(&Charge{ID: "ch_1", Status: entity.PurchasePending, Instructions: entity.Instructions{CopyPaste: "000201..."}}, nil)
			gw.On("GetCharge", mock.Anything, "ch_1").Return(pending(), nil)

			svc, _ := newService(t, gw)
			p, err := svc.Purchase(context.Background(), tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				gw.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, entity.PurchasePending, p.Status)
			assert.Equal(t, "000201...", p.Instructions.CopyPaste)
			assert.NotEmpty(t, p.Reference)
			assert.NotNil(t, p.ExpiresAt)
		})
	}
}

func TestPurchase_BackgroundConfirmation(t *testing.T) {
	gw := &MockGateway{}
	gw.On("CreateCharge", mock.Anything, mock.Anything).Return(pending(), nil)
	gw.On("GetCharge", mock.Anything, "ch_1").Return(pending(), nil).Twice()
	gw.On("GetCharge", mock.Anything, "ch_1").Return(approved(), nil)

	svc, _ := newService(t, gw)
	p, err := svc.Purchase(context.Background(), PurchaseInput{OwnerID: "o", PackageSlug: "business", Method: "credit_card"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		bal, _ := svc.GetBalance(context.Background(), "o")
		return bal.Credits == 1500
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return svc.confirmers.count() == 0 }, time.Second, 5*time.Millisecond)

	got, err := svc.GetPurchase(context.Background(), "o", p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PurchaseApproved, got.Status)

	_, err = svc.GetPurchase(context.Background(), "someone-else", p.ID)
	assert.ErrorIs(t, err, entity.ErrPurchaseNotFound)
}

func TestPurchase_GatewayFailure(t *testing.T) {
	gw := &MockGateway{}
	gw.On("CreateCharge", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	svc, _ := newService(t, gw)
	_, err := svc.Purchase(context.Background(), PurchaseInput{OwnerID: "o", PackageSlug: "starter", Method: "credit_card"})
	assert.ErrorIs(t, err, entity.ErrPaymentGateway)
}

func TestCancelPurchase(t *testing.T) {
	gw := &MockGateway{}
	gw.On("CancelCharge", mock.Anything, "ch_1").Return(nil).Once()
	gw.On("GetCharge", mock.Anything, "ch_1").Return(approved(), nil)

	svc, store := newService(t, gw)
	seedPurchase(t, store, "owner-1")

	p, err := svc.CancelPurchase(context.Background(), "owner-1", "pur-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PurchaseCancelled, p.Status)

	// a late approval is not applied
	p, err = svc.RefreshStatus(context.Background(), "pur-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PurchaseCancelled, p.Status)

	bal, err := svc.GetBalance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Zero(t, bal.Credits)

	_, err = svc.CancelPurchase(context.Background(), "owner-1", "pur-1")
	assert.ErrorIs(t, err, entity.ErrPurchaseNotPending)

	_, err = svc.CancelPurchase(context.Background(), "owner-1", "missing")
	assert.ErrorIs(t, err, entity.ErrPurchaseNotFound)
}

func TestShutdown_StopsConfirmers(t *testing.T) {
	gw := &MockGateway{}
	gw.On("GetCharge", mock.Anything, "ch_1").Return(pending(), nil)

	store := dao.NewCreditMemory()
	svc := New(store, gw, Config{PollInterval: 5 * time.Millisecond, PollTimeout: time.Hour}, discardLogger())
	seedPurchase(t, store, "owner-1")

	require.NoError(t, svc.ResumePending(context.Background()))
	svc.StartConfirmer("pur-1")
	assert.Equal(t, 1, svc.confirmers.count())

	done := make(chan struct{})
	go func() {
		svc.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not stop confirmers")
	}
	assert.Zero(t, svc.confirmers.count())

	// no new confirmers after shutdown
	svc.StartConfirmer("pur-1")
	assert.Zero(t, svc.confirmers.count())
}

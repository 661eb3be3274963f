package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/vadim/neo-publisher/internal/domain/credit/dao"
	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
	"github.com/vadim/neo-publisher/internal/metrics"
)

// ChargeResult is the outcome of a metered operation
type ChargeResult struct {
	Reference string `json:"reference"`
	Operation string `json:"operation"`
	Cost      int64  `json:"cost"`
	Balance   int64  `json:"balance"`
	// Replayed is true when the idempotency key was already charged and run was skipped
	Replayed bool `json:"replayed"`
}

const defaultReservationTTL = 15 * time.Minute

// Meter charges fixed credit costs for billable operations
type Meter struct {
	store          dao.Store
	costs          map[string]int64
	reservationTTL time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// MeterOption configures the Meter
type MeterOption func(*Meter)

// WithReservationTTL sets how long a reservation may stay uncommitted before a retry
// with the same key reclaims it. It must exceed the longest metered run.
func WithReservationTTL(ttl time.Duration) MeterOption {
	return func(m *Meter) {
		if ttl > 0 {
			m.reservationTTL = ttl
		}
	}
}

// WithMeterClock overrides the time source
func WithMeterClock(now func() time.Time) MeterOption {
	return func(m *Meter) {
		m.now = now
	}
}

// NewMeter creates a new meter with per-operation costs
func NewMeter(store dao.Store, costs map[string]int64, logger *slog.Logger, opts ...MeterOption) *Meter {
	normalized := make(map[string]int64, len(costs))
	for op, cost := range costs {
		normalized[strings.ToLower(strings.TrimSpace(op))] = cost
	}
	m := &Meter{
		store:          store,
		costs:          normalized,
		reservationTTL: defaultReservationTTL,
		now:            time.Now,
		logger:         logger.With("component", "credit_meter"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cost returns the price of an operation
func (m *Meter) Cost(operation string) (int64, error) {
	cost, ok := m.costs[strings.ToLower(strings.TrimSpace(operation))]
	if !ok {
		return 0, fmt.Errorf("%w: %s", entity.ErrUnknownOperation, operation)
	}
	return cost, nil
}

// Charge reserves the cost of operation, runs it and commits the charge on success.
// A failed run releases the reservation. The same idempotency key is never charged twice.
func (m *Meter) Charge(ctx context.Context, ownerID, operation, idempotencyKey string, run func(ctx context.Context) error) (*ChargeResult, error) {
	if ownerID == "" {
		return nil, entity.ErrEmptyOwner
	}
	cost, err := m.Cost(operation)
	if err != nil {
		return nil, err
	}
	operation = strings.ToLower(strings.TrimSpace(operation))

	reference := idempotencyKey
	if reference == "" {
		if reference, err = gonanoid.New(); err != nil {
			return nil, fmt.Errorf("generating charge reference: %w", err)
		}
	}
	reference = "op:" + ownerID + ":" + reference

	entry, created, err := m.store.Reserve(ctx, ownerID, reference, operation, cost)
	if err != nil {
		return nil, err
	}

	if !created && m.abandoned(entry) {
		// The holder died between reserve and commit: refund and take the key over.
		m.logger.Warn("reclaiming abandoned reservation", "reference", reference, "reserved_at", entry.UpdatedAt)
		if err := m.store.Release(ctx, reference); err != nil {
			return nil, err
		}
		if entry, created, err = m.store.Reserve(ctx, ownerID, reference, operation, cost); err != nil {
			return nil, err
		}
	}

	if !created {
		switch entry.Status {
		case entity.LedgerCommitted:
			bal, err := m.store.GetBalance(ctx, ownerID)
			if err != nil {
				return nil, err
			}
			return &ChargeResult{Reference: reference, Operation: operation, Cost: -entry.Delta, Balance: bal.Credits, Replayed: true}, nil
		default:
			return nil, entity.ErrChargeInProgress
		}
	}

	if run != nil {
		if runErr := run(ctx); runErr != nil {
			if err := m.store.Release(context.WithoutCancel(ctx), reference); err != nil {
				m.logger.Error("failed to release reservation", "reference", reference, "error", err)
			}
			return nil, runErr
		}
	}

	if err := m.store.Commit(context.WithoutCancel(ctx), reference); err != nil {
		if relErr := m.store.Release(context.WithoutCancel(ctx), reference); relErr != nil {
			m.logger.Error("failed to release uncommitted reservation", "reference", reference, "error", relErr)
		}
		return nil, fmt.Errorf("committing charge: %w", err)
	}
	metrics.CreditsCharged.WithLabelValues(operation).Add(float64(cost))

	bal, err := m.store.GetBalance(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("credits charged", "owner_id", ownerID, "operation", operation, "cost", cost, "balance", bal.Credits)
	return &ChargeResult{Reference: reference, Operation: operation, Cost: cost, Balance: bal.Credits}, nil
}

func (m *Meter) abandoned(entry *entity.LedgerEntry) bool {
	return entry.Status == entity.LedgerReserved && m.now().Sub(entry.UpdatedAt) > m.reservationTTL
}

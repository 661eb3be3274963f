package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/vadim/neo-publisher/internal/domain/credit/dao"
	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
	"github.com/vadim/neo-publisher/internal/metrics"
	"github.com/vadim/neo-publisher/internal/poll"
)

// ChargeRequest asks the payment gateway to open a charge
type ChargeRequest struct {
	Reference   string
	AmountCents int64
	Currency    string
	Method      entity.PaymentMethod
	CPF         string
	Description string
}

// Charge is the gateway view of a payment
type Charge struct {
	ID           string
	Status       entity.PurchaseStatus
	Instructions entity.Instructions
	ExpiresAt    *time.Time
}

// Gateway is the payment provider
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, id string) (*Charge, error)
	CancelCharge(ctx context.Context, id string) error
}

// Config holds credit service configuration
type Config struct {
	Packages     []entity.Package
	PollInterval time.Duration
	PollTimeout  time.Duration
	PurchaseTTL  time.Duration
}

// Service handles credit packages, balances and purchases
type Service struct {
	store      dao.Store
	gateway    Gateway
	cfg        Config
	packages   map[string]entity.Package
	confirmers *confirmers
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a new credit service
func New(store dao.Store, gateway Gateway, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if len(cfg.Packages) == 0 {
		cfg.Packages = entity.DefaultPackages()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}

	packages := make(map[string]entity.Package, len(cfg.Packages))
	for _, p := range cfg.Packages {
		packages[p.Slug] = p
	}

	s := &Service{
		store:      store,
		gateway:    gateway,
		cfg:        cfg,
		packages:   packages,
		confirmers: newConfirmers(),
		now:        time.Now,
		logger:     logger.With("component", "credits"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPackages returns the purchasable packages
func (s *Service) ListPackages() []entity.Package {
	out := make([]entity.Package, len(s.cfg.Packages))
	copy(out, s.cfg.Packages)
	return out
}

// GetBalance returns the balance of an owner
func (s *Service) GetBalance(ctx context.Context, ownerID string) (*entity.Balance, error) {
	if ownerID == "" {
		return nil, entity.ErrEmptyOwner
	}
	return s.store.GetBalance(ctx, ownerID)
}

// PurchaseInput represents input for buying a package
type PurchaseInput struct {
	OwnerID     string
	PackageSlug string
	Method      string
	CPF         string
}

// Purchase opens a gateway charge for a package and starts confirming it in the background
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (*entity.Purchase, error) {
	if in.OwnerID == "" {
		return nil, entity.ErrEmptyOwner
	}
	pkg, ok := s.packages[strings.ToLower(strings.TrimSpace(in.PackageSlug))]
	if !ok {
		return nil, entity.ErrPackageNotFound
	}
	method, err := entity.ParsePaymentMethod(in.Method)
	if err != nil {
		return nil, err
	}
	cpf := entity.NormalizeCPF(in.CPF)
	if method == entity.MethodPix && !entity.ValidCPF(cpf) {
		return nil, entity.ErrInvalidCPF
	}

	reference, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generating purchase reference: %w", err)
	}

	charge, err := s.gateway.CreateCharge(ctx, ChargeRequest{
		Reference:   reference,
		AmountCents: pkg.PriceCents,
		Currency:    pkg.Currency,
		Method:      method,
		CPF:         cpf,
		Description: fmt.Sprintf("%s credits (%d)", pkg.Name, pkg.Credits),
	})
	if err != nil {
		s.logger.Error("failed to create charge", "owner_id", in.OwnerID, "package", pkg.Slug, "error", err)
		return nil, fmt.Errorf("%w: %v", entity.ErrPaymentGateway, err)
	}

	now := s.now()
	p := &entity.Purchase{
		ID:            uuid.New().String(),
		OwnerID:       in.OwnerID,
		PackageSlug:   pkg.Slug,
		Credits:       pkg.Credits,
		AmountCents:   pkg.PriceCents,
		Currency:      pkg.Currency,
		PaymentMethod: method,
		Status:        entity.PurchasePending,
		Instructions:  charge.Instructions,
		GatewayID:     charge.ID,
		Reference:     reference,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     charge.ExpiresAt,
	}
	if p.ExpiresAt == nil && s.cfg.PurchaseTTL > 0 {
		exp := now.Add(s.cfg.PurchaseTTL)
		p.ExpiresAt = &exp
	}

	if err := s.store.CreatePurchase(ctx, p); err != nil {
		return nil, fmt.Errorf("saving purchase: %w", err)
	}

	s.logger.Info("purchase created", "purchase_id", p.ID, "owner_id", p.OwnerID, "package", p.PackageSlug, "method", method)
	s.StartConfirmer(p.ID)
	return p, nil
}

// GetPurchase retrieves a purchase of an owner
func (s *Service) GetPurchase(ctx context.Context, ownerID, id string) (*entity.Purchase, error) {
	p, err := s.store.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || (ownerID != "" && p.OwnerID != ownerID) {
		return nil, entity.ErrPurchaseNotFound
	}
	return p, nil
}

// RefreshStatus asks the gateway about a pending purchase and applies a terminal answer exactly once
func (s *Service) RefreshStatus(ctx context.Context, id string) (*entity.Purchase, error) {
	p, err := s.GetPurchase(ctx, "", id)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return p, nil
	}

	charge, err := s.gateway.GetCharge(ctx, p.GatewayID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrPaymentGateway, err)
	}
	if !charge.Status.IsTerminal() {
		return p, nil
	}

	return s.complete(ctx, p, charge.Status)
}

// Confirm polls the gateway until the purchase is terminal or timeout elapses.
// On timeout the purchase stays pending and poll.ErrTimeout is returned.
func (s *Service) Confirm(ctx context.Context, id string, onUpdate func(*entity.Purchase), timeout, interval time.Duration) (*entity.Purchase, error) {
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}

	cfg := poll.Config{
		Interval: interval,
		Timeout:  timeout,
		Retryable: func(err error) bool {
			return errors.Is(err, entity.ErrPaymentGateway)
		},
	}
	fetch := func(ctx context.Context) (*entity.Purchase, error) {
		return s.RefreshStatus(ctx, id)
	}
	terminal := func(p *entity.Purchase) bool {
		return p.Status.IsTerminal()
	}

	return poll.Until(ctx, cfg, fetch, terminal, onUpdate)
}

// CancelPurchase cancels a pending purchase at the gateway and locally
func (s *Service) CancelPurchase(ctx context.Context, ownerID, id string) (*entity.Purchase, error) {
	p, err := s.GetPurchase(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != entity.PurchasePending {
		return nil, entity.ErrPurchaseNotPending
	}

	if err := s.gateway.CancelCharge(ctx, p.GatewayID); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrPaymentGateway, err)
	}

	p, err = s.complete(ctx, p, entity.PurchaseCancelled)
	if err != nil {
		return nil, err
	}
	s.confirmers.stop(id)
	if p.Status != entity.PurchaseCancelled {
		return nil, entity.ErrPurchaseNotPending
	}
	return p, nil
}

// ResumePending restarts confirmation of purchases left pending by a previous run
func (s *Service) ResumePending(ctx context.Context) error {
	pending := entity.PurchasePending
	purchases, err := s.store.ListPurchases(ctx, &pending)
	if err != nil {
		return err
	}
	for _, p := range purchases {
		s.StartConfirmer(p.ID)
	}
	if len(purchases) > 0 {
		s.logger.Info("resumed pending purchases", "count", len(purchases))
	}
	return nil
}

// StartConfirmer confirms a purchase in the background. At most one loop runs per purchase.
func (s *Service) StartConfirmer(id string) {
	s.confirmers.start(id, func(ctx context.Context) {
		p, err := s.Confirm(ctx, id, nil, s.cfg.PollTimeout, s.cfg.PollInterval)
		switch {
		case errors.Is(err, poll.ErrTimeout):
			s.logger.Warn("purchase confirmation timed out", "purchase_id", id)
		case errors.Is(err, context.Canceled):
		case err != nil:
			s.logger.Error("purchase confirmation failed", "purchase_id", id, "error", err)
		default:
			s.logger.Info("purchase confirmed", "purchase_id", id, "status", p.Status)
		}
	})
}

// StopConfirmer cancels the background loop of a purchase
func (s *Service) StopConfirmer(id string) {
	s.confirmers.stop(id)
}

// Shutdown cancels every background confirmation and waits for them to exit
func (s *Service) Shutdown() {
	s.confirmers.shutdown()
}

func (s *Service) complete(ctx context.Context, p *entity.Purchase, status entity.PurchaseStatus) (*entity.Purchase, error) {
	applied, err := s.store.CompletePurchase(ctx, p.ID, status, s.now())
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.PurchasesTotal.WithLabelValues(string(p.PaymentMethod), string(status)).Inc()
		s.logger.Info("purchase completed", "purchase_id", p.ID, "owner_id", p.OwnerID, "status", status)
	}

	return s.GetPurchase(ctx, "", p.ID)
}

type confirmers struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newConfirmers() *confirmers {
	ctx, cancel := context.WithCancel(context.Background())
	return &confirmers{
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}
}

func (c *confirmers) start(id string, run func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return
	}
	if _, ok := c.running[id]; ok {
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.running[id] = cancel
	metrics.ActiveConfirmers.Inc()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.running, id)
			c.mu.Unlock()
			cancel()
			metrics.ActiveConfirmers.Dec()
		}()
		run(ctx)
	}()
}

func (c *confirmers) stop(id string) {
	c.mu.Lock()
	cancel, ok := c.running[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *confirmers) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

func (c *confirmers) shutdown() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

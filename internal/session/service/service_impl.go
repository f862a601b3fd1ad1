package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	"github.com/smallbiznis/checkout/internal/gateway/registry"
	obsmetrics "github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/session/domain"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentMethodCOD completes without any gateway involvement; the carrier
// collects on delivery.
const PaymentMethodCOD = "cod"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	TxnRepo  txdomain.Repository
	Registry *registry.Registry
	CartSvc  domain.CartService
	OrderSvc domain.OrderService
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	ttl      time.Duration
	repo     domain.Repository
	txnRepo  txdomain.Repository
	registry *registry.Registry
	cartSvc  domain.CartService
	orderSvc domain.OrderService
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	ttl := time.Duration(p.Cfg.SessionTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("checkout.session"),
		genID:    p.GenID,
		clock:    p.Clock,
		ttl:      ttl,
		repo:     p.Repo,
		txnRepo:  p.TxnRepo,
		registry: p.Registry,
		cartSvc:  p.CartSvc,
		orderSvc: p.OrderSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSessionRequest) (domain.CheckoutSession, error) {
	if req.TenantID == 0 || strings.TrimSpace(req.CartID) == "" {
		return domain.CheckoutSession{}, domain.ErrInvalidRequest
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" || !strings.Contains(email, "@") {
		return domain.CheckoutSession{}, domain.ErrInvalidRequest
	}

	cart, err := s.cartSvc.Get(ctx, strings.TrimSpace(req.CartID))
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if cart.SubTotal <= 0 || strings.TrimSpace(cart.Currency) == "" {
		return domain.CheckoutSession{}, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	session := domain.CheckoutSession{
		ID:            s.genID.Generate(),
		TenantID:      req.TenantID,
		CartID:        cart.ID,
		UserID:        req.UserID,
		CustomerEmail: email,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		SubTotal:      cart.SubTotal,
		Currency:      strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Status:        domain.StatusStarted,
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	if err := s.repo.Create(ctx, s.db, &session); err != nil {
		return domain.CheckoutSession{}, err
	}

	s.metrics.RecordSessionTransition(ctx, "", string(domain.StatusStarted))
	s.log.Info("checkout session created",
		zap.String("session_id", session.ID.String()),
		zap.String("cart_id", session.CartID),
		zap.Int64("sub_total", session.SubTotal),
		zap.String("currency", session.Currency),
	)
	return session, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.CheckoutSession, error) {
	session, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if session == nil {
		return domain.CheckoutSession{}, domain.ErrNotFound
	}
	return *session, nil
}

func (s *Service) SetShippingAddress(ctx context.Context, req domain.SetShippingAddressRequest) (domain.CheckoutSession, error) {
	session, err := s.loadOpen(ctx, req.SessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := requireStatus(session, domain.StatusStarted, domain.StatusAddressComplete); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := validateAddress(req.ShippingAddress); err != nil {
		return domain.CheckoutSession{}, err
	}

	shipping := req.ShippingAddress
	session.ShippingAddress = &shipping
	session.BillingSameAsShipping = req.BillingSameAsShipping
	if req.BillingSameAsShipping || req.BillingAddress == nil {
		billing := shipping
		session.BillingAddress = &billing
	} else {
		billing := *req.BillingAddress
		session.BillingAddress = &billing
	}

	return s.transition(ctx, session, domain.StatusAddressComplete)
}

func (s *Service) SelectShippingMethod(ctx context.Context, req domain.SelectShippingMethodRequest) (domain.CheckoutSession, error) {
	session, err := s.loadOpen(ctx, req.SessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := requireStatus(session, domain.StatusAddressComplete, domain.StatusShippingSelected); err != nil {
		return domain.CheckoutSession{}, err
	}
	method := strings.TrimSpace(req.Method)
	if method == "" || req.Cost < 0 {
		return domain.CheckoutSession{}, domain.ErrInvalidRequest
	}

	session.ShippingMethod = &method
	session.ShippingCost = req.Cost
	session.EstimatedDeliveryAt = req.EstimatedDeliveryAt

	return s.transition(ctx, session, domain.StatusShippingSelected)
}

func (s *Service) SelectPaymentMethod(ctx context.Context, req domain.SelectPaymentMethodRequest) (domain.CheckoutSession, domain.PaymentInstructions, error) {
	session, err := s.loadOpen(ctx, req.SessionID)
	if err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}
	if err := requireStatus(session, domain.StatusShippingSelected); err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, domain.ErrInvalidRequest
	}

	if method == PaymentMethodCOD {
		return s.selectCOD(ctx, session)
	}

	providerCode := strings.ToLower(strings.TrimSpace(req.GatewayHint))
	if providerCode == "" {
		providerCode = method
	}

	provider, gatewayCfg, err := s.registry.Resolve(ctx, session.TenantID, providerCode)
	if err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}
	amount := session.GrandTotal()
	if gatewayCfg.MinAmount > 0 && amount < gatewayCfg.MinAmount {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, domain.ErrInvalidRequest
	}
	if gatewayCfg.MaxAmount > 0 && amount > gatewayCfg.MaxAmount {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, domain.ErrInvalidRequest
	}
	if !gatewayCfg.SupportsCurrency(session.Currency) {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, domain.ErrInvalidRequest
	}
	if !gatewayCfg.SupportsPaymentMethod(method) {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, domain.ErrInvalidRequest
	}

	txnID := s.genID.Generate()
	number := "CK" + txnID.String()
	result, err := provider.InitiatePayment(ctx, gatewaydomain.InitiateRequest{
		Amount:            amount,
		Currency:          session.Currency,
		TransactionNumber: number,
		Metadata: map[string]string{
			"session_id":   session.ID.String(),
			"checkout_ref": session.TransactionNumber(),
		},
	})
	if err != nil {
		// Transport failure: nothing was charged, the step stays replayable.
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}

	now := s.clock.Now()
	if !result.Success {
		reason := strings.TrimSpace(result.ErrorMessage)
		txn := s.newTransaction(txnID, session, providerCode, number, amount, now)
		txn.Status = txdomain.StatusFailed
		if reason != "" {
			txn.FailureReason = &reason
		}
		if err := s.txnRepo.Create(ctx, s.db, &txn); err != nil {
			return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
		}
		s.log.Warn("payment initiation declined",
			zap.String("session_id", session.ID.String()),
			zap.String("provider", providerCode),
			zap.String("reason", reason),
		)
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, domain.ErrPaymentInitiationFailed
	}

	txn := s.newTransaction(txnID, session, providerCode, number, amount, now)
	txn.GatewayTransactionID = result.GatewayTransactionID
	txn.ReferenceCode = result.ReferenceCode
	if result.Status.Valid() {
		txn.Status = result.Status
	}
	if err := s.txnRepo.Create(ctx, s.db, &txn); err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}

	session.PaymentMethod = &method
	next := domain.StatusPaymentPending
	if result.RequiresAction {
		next = domain.StatusPaymentProcessing
	}
	updated, err := s.transition(ctx, session, next)
	if err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}

	instructions := domain.PaymentInstructions{
		Provider:             providerCode,
		TransactionID:        txn.ID.String(),
		GatewayTransactionID: txn.GatewayTransactionID,
		PaymentURL:           result.PaymentURL,
		ClientSecret:         result.ClientSecret,
		QRURL:                result.QRURL,
		ReferenceCode:        result.ReferenceCode,
		RequiresAction:       result.RequiresAction,
	}

	// An intent-confirmed provider can report paid synchronously; hand the
	// session off to order creation right away.
	if txn.Status.Settled() {
		if completed, err := s.finalize(ctx, updated); err == nil {
			updated = completed
		} else {
			s.log.Warn("synchronous settlement could not complete session",
				zap.String("session_id", updated.ID.String()),
				zap.Error(err),
			)
		}
	}
	return updated, instructions, nil
}

func (s *Service) selectCOD(ctx context.Context, session *domain.CheckoutSession) (domain.CheckoutSession, domain.PaymentInstructions, error) {
	now := s.clock.Now()
	txnID := s.genID.Generate()
	txn := s.newTransaction(txnID, session, PaymentMethodCOD, "CK"+txnID.String(), session.GrandTotal(), now)
	txn.Status = txdomain.StatusCodPending
	if err := s.txnRepo.Create(ctx, s.db, &txn); err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}

	method := PaymentMethodCOD
	session.PaymentMethod = &method
	updated, err := s.transition(ctx, session, domain.StatusPaymentPending)
	if err != nil {
		return domain.CheckoutSession{}, domain.PaymentInstructions{}, err
	}

	// COD completes pre-payment: the order is created immediately.
	if completed, err := s.finalize(ctx, updated); err == nil {
		updated = completed
	} else {
		s.log.Warn("cod session could not complete",
			zap.String("session_id", updated.ID.String()),
			zap.Error(err),
		)
	}
	return updated, domain.PaymentInstructions{Provider: PaymentMethodCOD, TransactionID: txn.ID.String()}, nil
}

func (s *Service) Complete(ctx context.Context, req domain.CompleteRequest) (domain.CheckoutSession, error) {
	session, err := s.loadOpen(ctx, req.SessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := requireStatus(session, domain.StatusPaymentPending, domain.StatusPaymentProcessing); err != nil {
		return domain.CheckoutSession{}, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderID == "" || orderNumber == "" {
		return domain.CheckoutSession{}, domain.ErrInvalidRequest
	}

	txn, err := s.txnRepo.FindBySession(ctx, s.db, session.ID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if txn == nil || !(txn.Status.Settled() || txn.Status == txdomain.StatusCodPending) {
		return domain.CheckoutSession{}, domain.ErrPaymentNotConfirmed
	}

	session.OrderID = &orderID
	session.OrderNumber = &orderNumber
	updated, err := s.transition(ctx, session, domain.StatusCompleted)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	s.log.Info("checkout session completed",
		zap.String("session_id", updated.ID.String()),
		zap.String("order_number", orderNumber),
	)
	return updated, nil
}

func (s *Service) Abandon(ctx context.Context, id snowflake.ID) (domain.CheckoutSession, error) {
	session, err := s.loadOpen(ctx, id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return s.transition(ctx, session, domain.StatusAbandoned)
}

// finalize creates the order for a settled session and completes it.
func (s *Service) finalize(ctx context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error) {
	order, err := s.orderSvc.CreateOrder(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return s.Complete(ctx, domain.CompleteRequest{
		SessionID:   session.ID,
		OrderID:     order.ID,
		OrderNumber: order.Number,
	})
}

// loadOpen fetches a session for mutation: missing, expired or otherwise
// terminal sessions are rejected before any state is touched.
func (s *Service) loadOpen(ctx context.Context, id snowflake.ID) (*domain.CheckoutSession, error) {
	session, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	if session.Status == domain.StatusExpired || session.ExpiredAt(s.clock.Now()) {
		return nil, domain.ErrSessionExpired
	}
	if session.Status.Terminal() {
		return nil, domain.ErrInvalidStateTransition
	}
	return session, nil
}

func (s *Service) transition(ctx context.Context, session *domain.CheckoutSession, to domain.Status) (domain.CheckoutSession, error) {
	from := session.Status
	session.Status = to
	if err := s.repo.Update(ctx, s.db, session, s.clock.Now()); err != nil {
		return domain.CheckoutSession{}, err
	}
	s.metrics.RecordSessionTransition(ctx, string(from), string(to))
	return *session, nil
}

func (s *Service) newTransaction(
	id snowflake.ID,
	session *domain.CheckoutSession,
	provider string,
	number string,
	amount int64,
	now time.Time,
) txdomain.PaymentTransaction {
	return txdomain.PaymentTransaction{
		ID:                id,
		TenantID:          session.TenantID,
		SessionID:         session.ID,
		Provider:          provider,
		TransactionNumber: number,
		Amount:            amount,
		Currency:          session.Currency,
		Status:            txdomain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
}

func requireStatus(session *domain.CheckoutSession, allowed ...domain.Status) error {
	for _, status := range allowed {
		if session.Status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidStateTransition, session.Status)
}

func validateAddress(address domain.Address) error {
	if strings.TrimSpace(address.FullName) == "" ||
		strings.TrimSpace(address.Line1) == "" ||
		strings.TrimSpace(address.City) == "" ||
		strings.TrimSpace(address.CountryCode) == "" {
		return domain.ErrInvalidRequest
	}
	return nil
}

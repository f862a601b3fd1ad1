package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/clock"
	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	"github.com/smallbiznis/checkout/internal/gateway/registry"
	obsmetrics "github.com/smallbiznis/checkout/internal/observability/metrics"
	"github.com/smallbiznis/checkout/internal/refcode"
	sessiondomain "github.com/smallbiznis/checkout/internal/session/domain"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
	"github.com/smallbiznis/checkout/internal/webhook/domain"
	"github.com/smallbiznis/checkout/internal/webhook/repository"
	"github.com/smallbiznis/checkout/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// casRetries bounds optimistic-lock retries when a webhook races the polling
// fallback or a concurrent delivery for the same transaction.
const casRetries = 3

// codePrefixer is implemented by description-matched adapters whose webhook
// content has to be scanned for an embedded reference code.
type codePrefixer interface {
	CodePrefix() string
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Registry    *registry.Registry
	EventRepo   repository.Repository
	TxnRepo     txdomain.Repository
	SessionRepo sessiondomain.Repository
	SessionSvc  sessiondomain.Service
	OrderSvc    sessiondomain.OrderService
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

// Reconciler turns raw provider notifications into transaction status
// transitions and, when a payment settles, drives the owning session to
// completion.
type Reconciler struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	registry    *registry.Registry
	eventRepo   repository.Repository
	txnRepo     txdomain.Repository
	sessionRepo sessiondomain.Repository
	sessionSvc  sessiondomain.Service
	orderSvc    sessiondomain.OrderService
	metrics     *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		db:          p.DB,
		log:         p.Log.Named("webhook.reconciler"),
		genID:       p.GenID,
		clock:       p.Clock,
		registry:    p.Registry,
		eventRepo:   p.EventRepo,
		txnRepo:     p.TxnRepo,
		sessionRepo: p.SessionRepo,
		sessionSvc:  p.SessionSvc,
		orderSvc:    p.OrderSvc,
		metrics:     p.Metrics,
	}
}

// Process runs the full pipeline for one delivery: authenticate, dedup,
// match, apply. Every business no-op (duplicate, unmatched, non-qualifying)
// is acknowledged so the provider stops retrying; only authentication and
// infrastructure failures surface as errors.
func (r *Reconciler) Process(ctx context.Context, tenantID snowflake.ID, providerCode string, payload []byte, headers http.Header) (domain.Ack, error) {
	providerCode = strings.ToLower(strings.TrimSpace(providerCode))

	provider, _, err := r.registry.Resolve(ctx, tenantID, providerCode)
	if err != nil {
		return domain.Ack{}, err
	}

	result, err := provider.ValidateWebhook(ctx, payload, headers)
	if err != nil {
		r.metrics.RecordWebhookEvent(ctx, providerCode, "rejected")
		return domain.Ack{}, err
	}
	if strings.TrimSpace(result.GatewayEventID) == "" {
		return domain.Ack{}, gatewaydomain.ErrInvalidPayload
	}

	now := r.clock.Now()
	event := domain.WebhookEvent{
		ID:             r.genID.Generate(),
		TenantID:       tenantID,
		Provider:       providerCode,
		GatewayEventID: result.GatewayEventID,
		EventType:      result.EventType,
		Payload:        datatypes.JSON(payload),
		Outcome:        domain.OutcomeIgnored,
		ReceivedAt:     now,
	}
	claimed := false
	for attempt := 0; attempt < casRetries && !claimed; attempt++ {
		err := r.eventRepo.Record(ctx, r.db, &event)
		if err == nil {
			claimed = true
			break
		}
		if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
			return domain.Ack{}, err
		}

		prior, ferr := r.eventRepo.FindByDedupKey(ctx, r.db, tenantID, providerCode, result.GatewayEventID)
		if ferr != nil {
			return domain.Ack{}, ferr
		}
		if prior == nil {
			// The holder released the claim between our insert and lookup.
			continue
		}
		if prior.ProcessedAt != nil {
			r.metrics.RecordWebhookEvent(ctx, providerCode, string(domain.OutcomeDuplicate))
			return domain.Ack{EventID: result.GatewayEventID, Outcome: domain.OutcomeDuplicate}, nil
		}
		// The key is claimed but unfinished: the earlier delivery died before
		// recording its outcome. Re-running the pipeline on its row is safe
		// because every transition sits behind the version guard.
		event = *prior
		claimed = true
	}
	if !claimed {
		return domain.Ack{}, txdomain.ErrConcurrentModification
	}

	outcome, err := r.apply(ctx, provider, tenantID, providerCode, result)
	if err != nil {
		// Release the claim so the provider's retry re-runs the pipeline
		// instead of being swallowed as a duplicate.
		if rerr := r.eventRepo.Release(ctx, r.db, event.ID); rerr != nil {
			r.log.Error("failed to release webhook claim",
				zap.String("gateway_event_id", result.GatewayEventID),
				zap.Error(rerr),
			)
		}
		return domain.Ack{}, err
	}
	if err := r.eventRepo.SetOutcome(ctx, r.db, &event, outcome, r.clock.Now()); err != nil {
		return domain.Ack{}, err
	}

	r.metrics.RecordWebhookEvent(ctx, providerCode, string(outcome))
	return domain.Ack{EventID: result.GatewayEventID, Outcome: outcome}, nil
}

func (r *Reconciler) apply(ctx context.Context, provider gatewaydomain.Provider, tenantID snowflake.ID, providerCode string, result gatewaydomain.WebhookResult) (domain.Outcome, error) {
	if !result.Qualifying {
		return domain.OutcomeIgnored, nil
	}

	txn, err := r.match(ctx, provider, tenantID, providerCode, result)
	if err != nil {
		return "", err
	}
	if txn == nil {
		r.log.Info("webhook event matched no transaction",
			zap.String("provider", providerCode),
			zap.String("gateway_event_id", result.GatewayEventID),
		)
		return domain.OutcomeNoMatch, nil
	}

	if result.Amount > 0 && result.Amount < txn.Amount {
		r.log.Warn("webhook amount below transaction amount",
			zap.String("transaction_id", txn.ID.String()),
			zap.Int64("expected", txn.Amount),
			zap.Int64("received", result.Amount),
		)
		return domain.OutcomeMismatch, nil
	}

	target := result.PaymentStatus
	if !target.Valid() {
		return domain.OutcomeIgnored, nil
	}

	applied, err := r.updateWithRetry(ctx, txn, target, result.GatewayTransactionID)
	if err != nil {
		return "", err
	}
	if !applied {
		return domain.OutcomeIgnored, nil
	}

	r.settleSession(ctx, txn, target)
	return domain.OutcomeApplied, nil
}

// match finds the transaction an event belongs to. Intent-confirmed providers
// carry our stored gateway handle directly; description-matched providers need
// the free-text transfer memo scanned for the reference code we issued.
func (r *Reconciler) match(ctx context.Context, provider gatewaydomain.Provider, tenantID snowflake.ID, providerCode string, result gatewaydomain.WebhookResult) (*txdomain.PaymentTransaction, error) {
	txn, err := r.txnRepo.FindByGatewayID(ctx, r.db, providerCode, result.GatewayTransactionID)
	if err != nil {
		return nil, err
	}
	if txn != nil {
		return txn, nil
	}

	prefixer, ok := provider.(codePrefixer)
	if !ok || result.Content == "" {
		return nil, nil
	}
	code, ok := refcode.Extract(prefixer.CodePrefix(), result.Content)
	if !ok {
		return nil, nil
	}
	return r.txnRepo.FindPendingByReferenceCode(ctx, r.db, tenantID, code)
}

// updateWithRetry applies the status transition under the version guard,
// reloading on a lost race. A transaction already at or past the target
// status reports applied=false, which the caller treats as a no-op.
func (r *Reconciler) updateWithRetry(ctx context.Context, txn *txdomain.PaymentTransaction, target txdomain.Status, gatewayTransactionID string) (bool, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		if txn.Status == target {
			return false, nil
		}
		if !txdomain.CanTransition(txn.Status, target) {
			r.log.Info("webhook status not applicable",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("current", string(txn.Status)),
				zap.String("target", string(target)),
			)
			return false, nil
		}

		err := r.txnRepo.UpdateStatus(ctx, r.db, txn, target, gatewayTransactionID, nil, r.clock.Now())
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, txdomain.ErrConcurrentModification) {
			return false, err
		}

		fresh, ferr := r.txnRepo.FindByID(ctx, r.db, txn.ID)
		if ferr != nil {
			return false, ferr
		}
		if fresh == nil {
			return false, txdomain.ErrNotFound
		}
		*txn = *fresh
	}
	return false, txdomain.ErrConcurrentModification
}

// settleSession drives the owning session after a settled payment. Payments
// arriving after session expiry stay recorded on the transaction; the order
// is deferred to manual review instead of being created against a dead
// session.
func (r *Reconciler) settleSession(ctx context.Context, txn *txdomain.PaymentTransaction, target txdomain.Status) {
	if !target.Settled() {
		return
	}
	// The polling sweep reaches here with no tenant on the context.
	ctx = tenantctx.WithTenantID(ctx, int64(txn.TenantID))

	session, err := r.sessionRepo.FindByID(ctx, r.db, txn.SessionID)
	if err != nil || session == nil {
		r.log.Error("settled payment has no loadable session",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("session_id", txn.SessionID.String()),
			zap.Error(err),
		)
		return
	}

	now := r.clock.Now()
	if session.Status == sessiondomain.StatusExpired || session.ExpiredAt(now) {
		r.metrics.RecordPaymentAfterExpiry(ctx, txn.Provider)
		r.log.Warn("payment settled after session expiry",
			zap.String("session_id", session.ID.String()),
			zap.String("transaction_id", txn.ID.String()),
			zap.Int64("amount", txn.Amount),
		)
		return
	}
	if session.Status == sessiondomain.StatusCompleted {
		return
	}

	order, err := r.orderSvc.CreateOrder(ctx, *session)
	if err != nil {
		r.log.Error("order creation failed for settled session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err),
		)
		return
	}
	if _, err := r.sessionSvc.Complete(ctx, sessiondomain.CompleteRequest{
		SessionID:   session.ID,
		OrderID:     order.ID,
		OrderNumber: order.Number,
	}); err != nil {
		r.log.Error("session completion failed after settlement",
			zap.String("session_id", session.ID.String()),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

// PollStale asks providers directly about transactions whose webhooks never
// arrived. Description-matched transactions have no gateway handle until a
// transfer is observed, so the stale query already excludes them.
func (r *Reconciler) PollStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := r.txnRepo.ListStalePending(ctx, r.db, olderThan, limit)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for i := range stale {
		txn := &stale[i]
		provider, _, err := r.registry.Resolve(ctx, txn.TenantID, txn.Provider)
		if err != nil {
			r.log.Warn("stale transaction has no resolvable provider",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("provider", txn.Provider),
				zap.Error(err),
			)
			continue
		}

		status, err := provider.GetPaymentStatus(ctx, txn.GatewayTransactionID)
		if err != nil {
			r.log.Warn("status poll failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
			continue
		}

		applied, err := r.updateWithRetry(ctx, txn, status.Status, "")
		if err != nil {
			r.log.Warn("status poll could not apply",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			continue
		}
		reconciled++
		r.settleSession(ctx, txn, status.Status)
	}
	return reconciled, nil
}

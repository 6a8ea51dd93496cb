// Package redemption turns a verified ticket payload into a one-time
// admission decision.
//
// Per order the ticket moves from unused to used exactly once. The
// transition is a single conditional write in the order store, so scans
// from independent devices or processes cannot both admit the same ticket.
// Reset is the administrative way back to unused.
package redemption

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-gate/internal/metrics"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/queue"
	"github.com/iliyamo/ticket-gate/internal/repository"
	"github.com/iliyamo/ticket-gate/internal/ticket"
)

// ErrOrderNotFound is returned by Reset for an unknown order.
var ErrOrderNotFound = errors.New("redemption: order not found")

// Outcome is the tagged result of a redemption attempt.
type Outcome string

const (
	OutcomeRedeemed            Outcome = "REDEEMED"
	OutcomeMalformedPayload    Outcome = Outcome(ticket.KindMalformedPayload)
	OutcomeChecksumMismatch    Outcome = Outcome(ticket.KindChecksumMismatch)
	OutcomeExpired             Outcome = Outcome(ticket.KindExpired)
	OutcomeOrderNotFound       Outcome = "ORDER_NOT_FOUND"
	OutcomeAlreadyUsed         Outcome = "ALREADY_USED"
	OutcomePaymentNotConfirmed Outcome = "PAYMENT_NOT_CONFIRMED"
)

// Result describes one redemption attempt. The display fields are filled
// only for OutcomeRedeemed.
type Result struct {
	Outcome    Outcome
	OrderID    string
	UserName   string
	EventTitle string
	UsedAt     time.Time
}

// OK reports whether the ticket was admitted.
func (r Result) OK() bool { return r.Outcome == OutcomeRedeemed }

// Actor identifies the already-authorized staff member performing an
// operation.  Both fields are recorded with every redemption and reset.
type Actor struct {
	ID   string
	Role string
}

// OrderStore is the slice of the order subsystem this package needs.
// GetOrder returns repository.ErrNotFound for unknown ids.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	MarkUsedIfUnused(ctx context.Context, id string, at time.Time) (bool, error)
	ResetUsed(ctx context.Context, id string) error
}

// EventPublisher receives audit events. Failures are logged and ignored.
type EventPublisher interface {
	PublishTicketEvent(ctx context.Context, ev queue.TicketEvent) error
}

// Service implements Redeem and Reset. It keeps no mutable state of its own.
type Service struct {
	codec  *ticket.Codec
	orders OrderStore
	events EventPublisher
	log    *zap.Logger
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithPublisher(p EventPublisher) Option { return func(s *Service) { s.events = p } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(codec *ticket.Codec, orders OrderStore, opts ...Option) *Service {
	s := &Service{codec: codec, orders: orders, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var tracer = otel.Tracer("github.com/iliyamo/ticket-gate/internal/redemption")

// Redeem admits the ticket encoded in payload at most once. Business
// rejections are reported through Result; a non-nil error means the order
// store failed and the operator should retry.
func (s *Service) Redeem(ctx context.Context, payload string, actor Actor) (Result, error) {
	ctx, span := tracer.Start(ctx, "redemption.Redeem")
	defer span.End()

	res, err := s.redeem(ctx, payload, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order store")
		return res, err
	}
	span.SetAttributes(
		attribute.String("ticket.order_id", res.OrderID),
		attribute.String("ticket.outcome", string(res.Outcome)),
	)
	return res, nil
}

func (s *Service) redeem(ctx context.Context, payload string, actor Actor) (Result, error) {
	v := s.codec.Verify(payload)
	if !v.Valid {
		if v.Kind == ticket.KindChecksumMismatch {
			s.log.Warn("ticket checksum mismatch, possible tampering", zap.String("actor_id", actor.ID), zap.String("actor_role", actor.Role))
		}
		return s.reject(Result{Outcome: Outcome(v.Kind)}, actor), nil
	}

	orderID := v.Claims.OrderID
	res := Result{OrderID: orderID}

	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		res.Outcome = OutcomeOrderNotFound
		return s.reject(res, actor), nil
	}
	if err != nil {
		return Result{}, err
	}

	if order.QRCodeUsed {
		res.Outcome = OutcomeAlreadyUsed
		return s.reject(res, actor), nil
	}
	if !order.Redeemable() {
		res.Outcome = OutcomePaymentNotConfirmed
		return s.reject(res, actor), nil
	}

	at := s.now().UTC()
	won, err := s.orders.MarkUsedIfUnused(ctx, orderID, at)
	if err != nil {
		return Result{}, err
	}
	if !won {
		// Lost the race against a concurrent scan of the same ticket.
		res.Outcome = OutcomeAlreadyUsed
		return s.reject(res, actor), nil
	}

	res.Outcome = OutcomeRedeemed
	res.UserName = order.UserName
	res.EventTitle = order.EventTitle
	res.UsedAt = at

	metrics.TicketRedemptionsTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.log.Info("ticket redeemed",
		zap.String("order_id", orderID),
		zap.String("event_id", order.EventID),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", actor.Role),
	)
	s.publish(ctx, queue.TicketEvent{
		Type:    queue.TicketRedeemed,
		OrderID: orderID,
		EventID: order.EventID,
		UserID:  order.UserID,
		ActorID: actor.ID,
		At:      at.Format(time.RFC3339),
	})
	return res, nil
}

// Reset returns a redeemed ticket to unused. The caller must already have
// checked that actor is privileged.
func (s *Service) Reset(ctx context.Context, orderID string, actor Actor) error {
	ctx, span := tracer.Start(ctx, "redemption.Reset")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.order_id", orderID))

	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if err := s.orders.ResetUsed(ctx, orderID); err != nil {
		return err
	}

	metrics.TicketResetsTotal.Inc()
	s.log.Info("ticket reset",
		zap.String("order_id", orderID),
		zap.Bool("was_used", order.QRCodeUsed),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", actor.Role),
	)
	s.publish(ctx, queue.TicketEvent{
		Type:    queue.TicketReset,
		OrderID: orderID,
		EventID: order.EventID,
		UserID:  order.UserID,
		ActorID: actor.ID,
		At:      s.now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (s *Service) reject(res Result, actor Actor) Result {
	metrics.TicketRedemptionsTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.log.Info("ticket rejected",
		zap.String("outcome", string(res.Outcome)),
		zap.String("order_id", res.OrderID),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", actor.Role),
	)
	return res
}

func (s *Service) publish(ctx context.Context, ev queue.TicketEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTicketEvent(ctx, ev); err != nil {
		s.log.Warn("publish ticket event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

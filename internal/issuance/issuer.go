// Package issuance mints the ticket for a confirmed order: it issues the
// payload, renders the QR image, stores the image in object storage and
// records both on the order.
package issuance

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-gate/internal/metrics"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/queue"
	"github.com/iliyamo/ticket-gate/internal/repository"
	"github.com/iliyamo/ticket-gate/internal/ticket"
)

var (
	// ErrNotRedeemable is returned for orders that are not paid or courtesy.
	ErrNotRedeemable = errors.New("issuance: order payment not confirmed")
	// ErrNoTicket is returned when an order has no ticket issued yet.
	ErrNoTicket = errors.New("issuance: ticket not issued")
)

// OrderStore loads orders and records issued tickets.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	SaveTicket(ctx context.Context, id, payload, imageURL string) error
}

// Renderer turns a payload into a PNG image.
type Renderer interface {
	PNG(payload string) ([]byte, error)
}

// Uploader stores a rendered image and returns its URL.
type Uploader interface {
	UploadQRCode(ctx context.Context, orderID string, png []byte) (string, error)
}

// EventPublisher receives ticket.issued audit events.
type EventPublisher interface {
	PublishTicketEvent(ctx context.Context, ev queue.TicketEvent) error
}

// Ticket is the result of issuing.
type Ticket struct {
	OrderID  string
	Payload  string
	PNG      []byte
	ImageURL string // empty when no uploader is configured or upload failed
}

// Requester identifies who asks for a ticket image.
type Requester struct {
	UserID string
	Admin  bool
}

type Issuer struct {
	codec    *ticket.Codec
	orders   OrderStore
	renderer Renderer
	uploader Uploader
	events   EventPublisher
	log      *zap.Logger
}

type Option func(*Issuer)

// WithUploader enables best-effort image upload.
func WithUploader(u Uploader) Option { return func(i *Issuer) { i.uploader = u } }

func WithPublisher(p EventPublisher) Option { return func(i *Issuer) { i.events = p } }

func WithLogger(l *zap.Logger) Option {
	return func(i *Issuer) {
		if l != nil {
			i.log = l
		}
	}
}

func NewIssuer(codec *ticket.Codec, orders OrderStore, renderer Renderer, opts ...Option) *Issuer {
	i := &Issuer{codec: codec, orders: orders, renderer: renderer, log: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a fresh payload for the order. Earlier payloads for the same
// order stay valid because the checksum does not cover the timestamp.
func (i *Issuer) Issue(ctx context.Context, orderID string) (*Ticket, error) {
	ctx, span := otel.Tracer("github.com/iliyamo/ticket-gate/internal/issuance").Start(ctx, "issuance.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.order_id", orderID))

	order, err := i.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Redeemable() {
		return nil, ErrNotRedeemable
	}

	payload, err := i.codec.Issue(order.ID, order.EventID, order.UserID)
	if err != nil {
		return nil, err
	}
	png, err := i.renderer.PNG(payload)
	if err != nil {
		return nil, err
	}

	t := &Ticket{OrderID: order.ID, Payload: payload, PNG: png}
	if i.uploader != nil {
		url, err := i.uploader.UploadQRCode(ctx, order.ID, png)
		if err != nil {
			// The payload alone is enough to admit the holder.
			metrics.TicketImageUploadFailuresTotal.Inc()
			i.log.Warn("qr image upload failed, continuing without url",
				zap.String("order_id", order.ID), zap.Error(err))
		} else {
			t.ImageURL = url
		}
	}

	if err := i.orders.SaveTicket(ctx, order.ID, payload, t.ImageURL); err != nil {
		return nil, err
	}

	metrics.TicketsIssuedTotal.Inc()
	i.log.Info("ticket issued", zap.String("order_id", order.ID), zap.String("event_id", order.EventID))
	if i.events != nil {
		ev := queue.TicketEvent{
			Type:    queue.TicketIssued,
			OrderID: order.ID,
			EventID: order.EventID,
			UserID:  order.UserID,
			At:      time.Now().UTC().Format(time.RFC3339),
		}
		if err := i.events.PublishTicketEvent(ctx, ev); err != nil {
			i.log.Warn("publish ticket event failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	return t, nil
}

// IssueForOrder issues a ticket unless the order already has one, so
// redelivered confirmation messages are harmless.
func (i *Issuer) IssueForOrder(ctx context.Context, orderID string) error {
	order, err := i.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.QRCodeData != "" {
		i.log.Debug("ticket already issued", zap.String("order_id", orderID))
		return nil
	}
	_, err = i.Issue(ctx, orderID)
	return err
}

// Image renders the stored payload of an order for its holder or an admin.
func (i *Issuer) Image(ctx context.Context, orderID string, who Requester) ([]byte, error) {
	order, err := i.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !who.Admin && order.UserID != who.UserID {
		return nil, repository.ErrForbidden
	}
	if order.QRCodeData == "" {
		return nil, ErrNoTicket
	}
	return i.renderer.PNG(order.QRCodeData)
}

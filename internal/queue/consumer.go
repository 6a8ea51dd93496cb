// Package queue contains the background consumer that listens to the
// order.confirmed queue and issues tickets for confirmed orders, plus the
// publisher for ticket audit events.
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

const orderConfirmedQueue = "order.confirmed"

// TicketIssuer issues the ticket for a confirmed order.
type TicketIssuer interface {
    IssueForOrder(ctx context.Context, orderID string) error
}

// StartOrderConsumer connects to RabbitMQ, declares the order.confirmed
// queue (durable), and issues a ticket for every message.  It runs a
// reconnect loop with exponential backoff and only returns when ctx is
// cancelled.  A message that cannot be processed is rejected without
// requeue so one bad order never stalls the queue.
func StartOrderConsumer(ctx context.Context, url string, issuer TicketIssuer, log *zap.Logger) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn("order-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = consumeLoop(ctx, conn, issuer, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("order-consumer: consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, issuer TicketIssuer, log *zap.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(10, 0, false); err != nil {
        log.Warn("order-consumer: set QoS failed", zap.Error(err))
    }

    _, err = ch.QueueDeclare(orderConfirmedQueue, true, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    msgs, err := ch.Consume(orderConfirmedQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(ctx, d.Body, issuer); err != nil {
                log.Error("order-consumer: handle message failed", zap.Error(err))
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(ctx context.Context, body []byte, issuer TicketIssuer) error {
    var ev OrderConfirmedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.OrderID == "" {
        return errors.New("message has no order_id")
    }
    ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
    defer cancel()
    if err := issuer.IssueForOrder(ctx, ev.OrderID); err != nil {
        return fmt.Errorf("issue ticket for order %s: %w", ev.OrderID, err)
    }
    return nil
}

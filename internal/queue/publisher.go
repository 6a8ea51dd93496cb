package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/ticket-gate/internal/metrics"
)

// TicketEventsQueue receives TicketEvent audit messages.
const TicketEventsQueue = "ticket.events"

const (
    defaultBuffer      = 256
    defaultDialTimeout = 2 * time.Second
    defaultMinBackoff  = time.Second
    maxBackoff         = 30 * time.Second
    sendTimeout        = 5 * time.Second
)

var (
    // ErrPublisherFull is returned when the outgoing buffer is full and the
    // event was dropped.
    ErrPublisherFull = errors.New("queue: publish buffer full, event dropped")
    // ErrPublisherClosed is returned after Close.
    ErrPublisherClosed = errors.New("queue: publisher closed")
)

// Publisher publishes ticket audit events to RabbitMQ.  PublishTicketEvent
// only enqueues; a single worker goroutine owns the broker connection,
// dials lazily with a bounded handshake, and backs off after failures.
// While the broker is unreachable events are dropped and counted.
type Publisher struct {
    url        string
    log        *zap.Logger
    dial       func(url string) (*amqp.Connection, error)
    minBackoff time.Duration
    now        func() time.Time

    mu     sync.RWMutex // guards closed and sends on events
    closed bool
    events chan TicketEvent
    done   chan struct{}

    handled atomic.Int64 // events taken off the buffer, sent or dropped

    // owned by the worker goroutine
    conn     *amqp.Connection
    ch       *amqp.Channel
    backoff  time.Duration
    nextDial time.Time
}

type PublisherOption func(*Publisher)

// WithPublisherLogger logs drops and broker failures to l.
func WithPublisherLogger(l *zap.Logger) PublisherOption {
    return func(p *Publisher) {
        if l != nil {
            p.log = l
        }
    }
}

// WithBuffer sets how many events may wait for the broker.
func WithBuffer(n int) PublisherOption {
    return func(p *Publisher) {
        if n > 0 {
            p.events = make(chan TicketEvent, n)
        }
    }
}

// WithDialTimeout bounds the TCP connect and AMQP handshake.
func WithDialTimeout(d time.Duration) PublisherOption {
    return func(p *Publisher) {
        if d > 0 {
            p.dial = dialer(d)
        }
    }
}

func dialer(timeout time.Duration) func(string) (*amqp.Connection, error) {
    return func(url string) (*amqp.Connection, error) {
        return amqp.DialConfig(url, amqp.Config{
            Dial:      amqp.DefaultDial(timeout),
            Heartbeat: 10 * time.Second,
            Locale:    "en_US",
        })
    }
}

// NewPublisher returns a Publisher for the broker at url and starts its
// worker.  Call Close to flush and stop it.
func NewPublisher(url string, opts ...PublisherOption) *Publisher {
    p := &Publisher{
        url:        url,
        log:        zap.NewNop(),
        dial:       dialer(defaultDialTimeout),
        minBackoff: defaultMinBackoff,
        now:        time.Now,
        events:     make(chan TicketEvent, defaultBuffer),
        done:       make(chan struct{}),
    }
    for _, opt := range opts {
        opt(p)
    }
    go p.run()
    return p
}

// PublishTicketEvent enqueues ev without blocking.  It never waits for the
// broker, so callers on the request path are not slowed by an outage.
func (p *Publisher) PublishTicketEvent(ctx context.Context, ev TicketEvent) error {
    p.mu.RLock()
    defer p.mu.RUnlock()
    if p.closed {
        return ErrPublisherClosed
    }
    select {
    case p.events <- ev:
        return nil
    default:
        metrics.TicketEventsDroppedTotal.Inc()
        return ErrPublisherFull
    }
}

// Close stops accepting events, lets the worker drain what is buffered and
// releases the connection.  It waits at most until ctx is done.
func (p *Publisher) Close(ctx context.Context) error {
    p.mu.Lock()
    if !p.closed {
        p.closed = true
        close(p.events)
    }
    p.mu.Unlock()

    select {
    case <-p.done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (p *Publisher) run() {
    defer close(p.done)
    defer p.closeConn()
    for ev := range p.events {
        if err := p.send(ev); err != nil {
            metrics.TicketEventsDroppedTotal.Inc()
            p.log.Warn("ticket event dropped",
                zap.String("type", ev.Type),
                zap.String("order_id", ev.OrderID),
                zap.Error(err))
        }
        p.handled.Add(1)
    }
}

func (p *Publisher) send(ev TicketEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }
    ch, err := p.channel()
    if err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
    defer cancel()
    err = ch.PublishWithContext(ctx,
        "",                // default exchange
        TicketEventsQueue, // routing key = queue name
        false,             // mandatory
        false,             // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent,
            Timestamp:    time.Now().UTC(),
            Type:         ev.Type,
            Body:         body,
        },
    )
    if err != nil {
        p.closeConn()
        return fmt.Errorf("publish %s: %w", ev.Type, err)
    }
    return nil
}

// errBackingOff reports that the last dial failed recently.
var errBackingOff = errors.New("broker unavailable, backing off")

// channel returns an open channel, dialling when needed and allowed by the
// backoff window.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.closeConn()
    if p.now().Before(p.nextDial) {
        return nil, errBackingOff
    }

    ch, err := p.open()
    if err != nil {
        if p.backoff == 0 {
            p.backoff = p.minBackoff
        } else {
            p.backoff *= 2
        }
        p.backoff = min(p.backoff, maxBackoff)
        p.nextDial = p.now().Add(p.backoff)
        return nil, err
    }
    p.backoff, p.nextDial = 0, time.Time{}
    return ch, nil
}

func (p *Publisher) open() (*amqp.Channel, error) {
    conn, err := p.dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial rabbitmq: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("open channel: %w", err)
    }
    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(
        TicketEventsQueue, // name
        true,              // durable
        false,             // autoDelete
        false,             // exclusive
        false,             // noWait
        nil,               // args
    ); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) closeConn() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}

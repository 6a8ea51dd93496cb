// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderConfirmedEvent is published by the payment subsystem when an order
// becomes paid, and by the courtesy flow when an invitation is redeemed.
// Consumers issue the ticket for the order.
type OrderConfirmedEvent struct {
    OrderID     string `json:"order_id"`
    EventID     string `json:"event_id"`
    UserID      string `json:"user_id"`
    Status      string `json:"status"` // paid | courtesy
    ConfirmedAt string `json:"confirmed_at"`
}

// Ticket event types.
const (
    TicketIssued   = "ticket.issued"
    TicketRedeemed = "ticket.redeemed"
    TicketReset    = "ticket.reset"
)

// TicketEvent is an audit record published whenever a ticket changes
// state.  ActorID is empty for issuance triggered by the queue.
type TicketEvent struct {
    Type    string `json:"type"`
    OrderID string `json:"order_id"`
    EventID string `json:"event_id,omitempty"`
    UserID  string `json:"user_id,omitempty"`
    ActorID string `json:"actor_id,omitempty"`
    At      string `json:"at"`
}

package model

import "time"

// Order status values.  Orders are created and paid by the payment
// subsystem; this service only reads Status and owns the QR code fields.
const (
    OrderPending   = "pending"
    OrderPaid      = "paid"
    OrderCancelled = "cancelled"
    OrderCourtesy  = "courtesy"
)

// Order represents a row in the `orders` table together with the display
// fields needed at the venue door.
//
// Fields:
//  ID           – primary key (UUID string).
//  UserID       – ticket holder.
//  EventID      – event the ticket admits to.
//  Status       – pending, paid, cancelled or courtesy.
//  QRCodeData   – payload last issued for the order, empty until issued.
//  QRCodeS3URL  – object storage URL of the rendered QR image, if uploaded.
//  QRCodeUsed   – set once the ticket has been redeemed.
//  QRCodeUsedAt – when the ticket was redeemed (nil while unused).
//  UserName     – users.full_name, joined for display.
//  EventTitle   – events.title, joined for display.
type Order struct {
    ID           string     // orders.id
    UserID       string     // orders.user_id
    EventID      string     // orders.event_id
    Status       string     // orders.status
    QRCodeData   string     // orders.qr_code_data (nullable)
    QRCodeS3URL  string     // orders.qr_code_s3_url (nullable)
    QRCodeUsed   bool       // orders.qr_code_used
    QRCodeUsedAt *time.Time // orders.qr_code_used_at (nullable)
    CreatedAt    time.Time  // orders.created_at
    UpdatedAt    time.Time  // orders.updated_at

    UserName   string // users.full_name
    EventTitle string // events.title
}

// Redeemable reports whether the order's payment state admits entry.
// Courtesy orders are admitted exactly like paid ones.
func (o *Order) Redeemable() bool {
    return o.Status == OrderPaid || o.Status == OrderCourtesy
}

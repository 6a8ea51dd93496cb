// Package ticket builds and verifies the credential embedded in a ticket's QR
// code.
//
// The payload is plaintext JSON: anyone who scans the code can read the order,
// event and user identifiers. Only the checksum depends on the server secret,
// so the scheme detects tampering but provides no confidentiality. The
// checksum deliberately excludes the timestamp, which means re-rendering a
// ticket never invalidates previously delivered copies; expiry is a separate
// age check.
package ticket

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultMaxAge is the default lifetime of an issued payload.
const DefaultMaxAge = 365 * 24 * time.Hour

// DefaultChecksumLength is the number of hex characters kept from the digest.
const DefaultChecksumLength = 16

// ErrInvalidInput is returned by Issue when an identifier is empty.
var ErrInvalidInput = errors.New("ticket: order, event and user ids are required")

// ErrorKind classifies why a payload failed verification.
type ErrorKind string

const (
	KindMalformedPayload ErrorKind = "MALFORMED_PAYLOAD"
	KindChecksumMismatch ErrorKind = "CHECKSUM_MISMATCH"
	KindExpired          ErrorKind = "EXPIRED"
)

// Claims are the business fields carried by a payload.
type Claims struct {
	OrderID   string `json:"orderId"`
	EventID   string `json:"eventId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"` // ms since epoch
}

// IssuedAt returns the payload timestamp as a time.Time.
func (c Claims) IssuedAt() time.Time { return time.UnixMilli(c.Timestamp).UTC() }

// payload is the wire record. Field order here is the serialization order.
type payload struct {
	OrderID   string `json:"orderId"`
	EventID   string `json:"eventId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
	Checksum  string `json:"checksum"`
}

// scanned mirrors payload with pointers so missing keys can be told apart
// from zero values.
type scanned struct {
	OrderID   *string `json:"orderId"`
	EventID   *string `json:"eventId"`
	UserID    *string `json:"userId"`
	Timestamp *int64  `json:"timestamp"`
	Checksum  *string `json:"checksum"`
}

// Verification is the outcome of Verify. Claims is set only when Valid.
type Verification struct {
	Valid  bool
	Claims *Claims
	Kind   ErrorKind
}

// Codec issues and verifies payloads bound to a single server secret.
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	secret      string
	maxAge      time.Duration
	checksumLen int
	now         func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithMaxAge overrides the payload lifetime. Non-positive values are ignored.
func WithMaxAge(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithChecksumLength sets how many hex characters of the digest are kept.
func WithChecksumLength(n int) Option {
	return func(c *Codec) {
		switch {
		case n < 1:
			c.checksumLen = DefaultChecksumLength
		case n > sha256.Size*2:
			c.checksumLen = sha256.Size * 2
		default:
			c.checksumLen = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec returns a Codec keyed by secret. The same secret must be used at
// issue and verify time.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("ticket: secret must not be empty")
	}
	c := &Codec{
		secret:      secret,
		maxAge:      DefaultMaxAge,
		checksumLen: DefaultChecksumLength,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxAge reports the configured payload lifetime.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// Checksum returns the truncated keyed digest binding the three ids.
func (c *Codec) Checksum(orderID, eventID, userID string) string {
	sum := sha256.Sum256([]byte(orderID + ":" + eventID + ":" + userID + ":" + c.secret))
	return hex.EncodeToString(sum[:])[:c.checksumLen]
}

// Issue returns the QR payload for an order.
func (c *Codec) Issue(orderID, eventID, userID string) (string, error) {
	if orderID == "" || eventID == "" || userID == "" {
		return "", ErrInvalidInput
	}
	b, err := json.Marshal(payload{
		OrderID:   orderID,
		EventID:   eventID,
		UserID:    userID,
		Timestamp: c.now().UnixMilli(),
		Checksum:  c.Checksum(orderID, eventID, userID),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify decodes an untrusted scanned string and checks its checksum and age.
// It reports every failure through the returned Verification.
func (c *Codec) Verify(raw string) Verification {
	claims, sum, ok := parse(raw)
	if !ok {
		return Verification{Kind: KindMalformedPayload}
	}

	want := c.Checksum(claims.OrderID, claims.EventID, claims.UserID)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sum)) != 1 {
		return Verification{Kind: KindChecksumMismatch}
	}

	age := c.now().UnixMilli() - claims.Timestamp
	if age > c.maxAge.Milliseconds() {
		return Verification{Kind: KindExpired}
	}
	return Verification{Valid: true, Claims: &claims}
}

func parse(raw string) (Claims, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return Claims{}, "", false
	}
	var s scanned
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Claims{}, "", false
	}
	if empty(s.OrderID) || empty(s.EventID) || empty(s.UserID) || empty(s.Checksum) || s.Timestamp == nil {
		return Claims{}, "", false
	}
	// Issued payloads carry epoch milliseconds; anything before the epoch
	// would also overflow the age computation.
	if *s.Timestamp < 0 {
		return Claims{}, "", false
	}
	return Claims{
		OrderID:   *s.OrderID,
		EventID:   *s.EventID,
		UserID:    *s.UserID,
		Timestamp: *s.Timestamp,
	}, *s.Checksum, true
}

func empty(s *string) bool { return s == nil || *s == "" }

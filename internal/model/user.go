package model

import "time"

// Role names stored in users.role and carried in the JWT "role" claim.
const (
    RoleAdmin    = "ADMIN"
    RoleCustomer = "CUSTOMER"
)

// User represents an application user record as stored in the
// `users` table.  Account management lives elsewhere; this service
// only needs enough of the row to authenticate staff and to show
// the ticket holder's name at the door.
//
// Fields:
//  ID           – primary key (UUID string).
//  Email        – unique email address.
//  FullName     – display name shown to the scanning admin.
//  PasswordHash – bcrypt hashed password.
//  Role         – ADMIN or CUSTOMER.
//  IsActive     – whether the account may log in.
type User struct {
    ID           string    // users.id
    Email        string    // users.email
    FullName     string    // users.full_name
    PasswordHash string    // users.password_hash
    Role         string    // users.role
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The
// plain token is not stored; only its SHA‑256 hash.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    string     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}

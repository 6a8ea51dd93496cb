// Package repository holds the MySQL-backed stores for orders, users and
// refresh tokens.  Callers match the sentinel errors below with errors.Is
// instead of depending on database/sql.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller asks for a resource they do not
// own.  Ticket handlers answer it with 404 so order ids cannot be probed.
var ErrForbidden = errors.New("forbidden")

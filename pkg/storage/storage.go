// Package storage defines the persistence contracts the engine consumes.
// Concrete engines live elsewhere; the engine only orchestrates calls.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// ValidationError reports input a storage engine refused.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("storage validation: %s: %s", e.Field, e.Reason)
}

// EngineError wraps a failure inside a storage engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// User is opaque to the engine beyond its ID.
type User interface {
	ID() string
}

type CreateUser struct {
	Email         *string
	EmailVerified *bool
	Name          *string
}

type UpdateUser struct {
	ID            string
	Email         *string
	EmailVerified *bool
	Name          *string
}

// UserStorage is the base capability every method-specific storage
// contract embeds.
type UserStorage interface {
	// ID identifies the storage instance, e.g. for logging.
	ID() string
	UserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, input CreateUser) (User, error)
	UpdateUser(ctx context.Context, input UpdateUser) (User, error)
}

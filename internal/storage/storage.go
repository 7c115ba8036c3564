// Package storage persists chat users and messages.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is a registered account. The password is only kept as a hash.
type User struct {
	ID           int64
	Name         string
	PasswordHash string
}

// Message is a stored chat line.
type Message struct {
	ID        int64
	Author    string
	Text      string
	CreatedAt time.Time
}

// Store provides persistence for users and chat history.
type Store interface {
	// GetUserByName returns ErrUserNotFound for unknown names.
	GetUserByName(ctx context.Context, name string) (*User, error)
	// AddUser registers name, hashing password.
	AddUser(ctx context.Context, name, password string) error
	// LoginUser reports whether password matches the stored hash.
	LoginUser(ctx context.Context, name, password string) (bool, error)
	AddMessage(ctx context.Context, username, text string) error
	// GetMessages ranks messages created at or before `before` from newest
	// to oldest, skips the first `skip`, takes `amount`, and returns them
	// oldest first.
	GetMessages(ctx context.Context, amount, skip int, before time.Time) ([]Message, error)
	Close() error
}

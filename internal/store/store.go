// Package store persists users and messages.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

//go:generate mockgen -destination=mock/mock_store.go -package=mock . Store

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already in use")
)

// Store is the durable record of users and messages. Messages are append-only.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsersExcept(ctx context.Context, id string) ([]User, error)
	UpdateProfilePicture(ctx context.Context, id, pictureURL string) (*User, error)

	SaveMessage(ctx context.Context, m *Message) error
	// ListMessages returns every message sent or received by userID, newest first.
	ListMessages(ctx context.Context, userID string) ([]Message, error)
	// ListConversation returns the messages between two users, oldest first.
	ListConversation(ctx context.Context, userID, otherID string) ([]Message, error)
	// ListPartners returns the users userID has exchanged messages with.
	ListPartners(ctx context.Context, userID string) ([]User, error)
}

// User is a registered account.
type User struct {
	ID                string  `gorm:"primaryKey;type:text"`
	Email             string  `gorm:"uniqueIndex;not null"`
	FullName          string  `gorm:"not null"`
	PasswordHash      string  `gorm:"not null"`
	ProfilePictureURL *string `gorm:"column:profile_picture_url"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message is one chat message. It is never modified after SaveMessage.
type Message struct {
	ID         string    `gorm:"primaryKey;type:text"`
	SenderID   string    `gorm:"index;not null"`
	ReceiverID string    `gorm:"index;not null"`
	Text       *string   `gorm:"column:text"`
	ImageURL   *string   `gorm:"column:image_url"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

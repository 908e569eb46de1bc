// Package backend defines the hosted auth, database and object storage
// service the stores persist through, and a local implementation of it on
// SQLite and the filesystem.
package backend

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInvalid           = errors.New("invalid input")
	ErrInvalidCredential = errors.New("invalid login credentials")
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	ErrUserExists        = errors.New("user already registered")
	ErrNoSession         = errors.New("no active session")
	ErrRateLimited       = errors.New("too many sign-in attempts, try again later")
)

type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent is a session change notification. Session is nil for sign-out.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// SignUpResult holds the created user. Session is nil when the account must
// confirm its email before it can sign in.
type SignUpResult struct {
	User    User
	Session *Session
}

// Auth abstracts the auth service.
type Auth interface {
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// GetSession returns the current session, or nil if there is none.
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers fn for session change notifications.
	// Notifications may be delivered from any goroutine.
	OnAuthStateChange(fn func(AuthEvent)) Subscription
}

// Profiles abstracts the profiles table.
type Profiles interface {
	// GetProfile returns nil, nil if the profile doesn't exist.
	GetProfile(ctx context.Context, id string) (*Profile, error)
	InsertProfile(ctx context.Context, id string, fields ProfilePatch) (*Profile, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*Profile, error)
}

// Inventory abstracts the inventory_items and storage_locations tables.
type Inventory interface {
	// ListItems returns items newest-created first.
	ListItems(ctx context.Context) ([]InventoryItem, error)
	InsertItem(ctx context.Context, item NewInventoryItem) (*InventoryItem, error)
	UpdateItem(ctx context.Context, id string, patch ItemPatch) (*InventoryItem, error)
	DeleteItem(ctx context.Context, id string) error

	// ListLocations returns locations ordered by name.
	ListLocations(ctx context.Context) ([]StorageLocation, error)
	InsertLocation(ctx context.Context, loc NewStorageLocation) (*StorageLocation, error)
	UpdateLocation(ctx context.Context, id string, patch LocationPatch) (*StorageLocation, error)
	DeleteLocation(ctx context.Context, id string) error
}

// Listings abstracts the listings table.
type Listings interface {
	// ListListingsByUser returns the user's listings newest-created first.
	ListListingsByUser(ctx context.Context, userID string) ([]Listing, error)
	InsertListing(ctx context.Context, listing NewListing) (*Listing, error)
	// UpdateListing and DeleteListing only touch rows owned by userID.
	UpdateListing(ctx context.Context, userID, id string, patch ListingPatch) (*Listing, error)
	DeleteListing(ctx context.Context, userID, id string) error
}

// ObjectStorage abstracts the bucket-based file storage.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) error
	PublicURL(bucket, path string) string
}

var (
	_ Profiles      = (*SQLiteBackend)(nil)
	_ Inventory     = (*SQLiteBackend)(nil)
	_ Listings      = (*SQLiteBackend)(nil)
	_ Auth          = (*LocalAuth)(nil)
	_ ObjectStorage = (*FileStorage)(nil)
)

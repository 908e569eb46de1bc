package store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/raine/resellkit/internal/backend"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ListingImagesBucket is the storage bucket listing images are uploaded to.
const ListingImagesBucket = "listing-images"

// ListingInput is the caller-supplied part of a new listing. Owner and
// status are set by the store.
type ListingInput struct {
	Title       string
	Description string
	Condition   backend.Condition
	Price       float64
	Images      []string
	Marketplace string
	// Status is ignored; new listings are always drafts.
	Status backend.ListingStatus
}

// ImageFile is an image to upload.
type ImageFile struct {
	Name        string
	Data        []byte
	ContentType string
}

// ListingStore caches the signed-in user's listings.
type ListingStore struct {
	callState

	db      backend.Listings
	storage backend.ObjectStorage
	users   UserSource

	mu       sync.RWMutex
	listings []backend.Listing
}

func NewListingStore(db backend.Listings, storage backend.ObjectStorage, users UserSource, rec Recorder) *ListingStore {
	return &ListingStore{
		callState: callState{name: "listings", rec: recorderOrNop(rec)},
		db:        db,
		storage:   storage,
		users:     users,
	}
}

// Listings returns a copy of the cached listings.
func (s *ListingStore) Listings() []backend.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.listings)
}

// Reset drops the cached listings, e.g. when the signed-in user changes.
func (s *ListingStore) Reset() {
	s.mu.Lock()
	s.listings = nil
	s.mu.Unlock()
}

// CreateListing stores a new draft listing owned by the signed-in user and
// appends it to the cache.
func (s *ListingStore) CreateListing(ctx context.Context, input ListingInput) (created *backend.Listing, err error) {
	userID := s.users.CurrentUserID()
	if userID == "" {
		return nil, s.fail("create_listing", ErrNotSignedIn)
	}

	s.begin()
	defer func() { s.end("create_listing", err) }()

	created, err = s.db.InsertListing(ctx, backend.NewListing{
		UserID:      userID,
		Title:       input.Title,
		Description: input.Description,
		Condition:   input.Condition,
		Price:       input.Price,
		Images:      input.Images,
		Status:      backend.ListingDraft,
		Marketplace: input.Marketplace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.mu.Lock()
	s.listings = append(s.listings, *created)
	s.mu.Unlock()
	log.Debug().Str("listingId", created.ID).Str("userId", userID).Msg("created listing")
	return created, nil
}

// UpdateListing patches one of the signed-in user's listings and replaces
// the cached row with the returned one.
func (s *ListingStore) UpdateListing(ctx context.Context, id string, patch backend.ListingPatch) (updated *backend.Listing, err error) {
	userID := s.users.CurrentUserID()
	if userID == "" {
		return nil, s.fail("update_listing", ErrNotSignedIn)
	}

	s.begin()
	defer func() { s.end("update_listing", err) }()

	updated, err = s.db.UpdateListing(ctx, userID, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}

	s.mu.Lock()
	for i := range s.listings {
		if s.listings[i].ID == id {
			s.listings[i] = *updated
		}
	}
	s.mu.Unlock()
	return updated, nil
}

// PublishListing marks a listing as published.
func (s *ListingStore) PublishListing(ctx context.Context, id string) (*backend.Listing, error) {
	status := backend.ListingPublished
	return s.UpdateListing(ctx, id, backend.ListingPatch{Status: &status})
}

// DeleteListing removes one of the signed-in user's listings.
func (s *ListingStore) DeleteListing(ctx context.Context, id string) (err error) {
	userID := s.users.CurrentUserID()
	if userID == "" {
		return s.fail("delete_listing", ErrNotSignedIn)
	}

	s.begin()
	defer func() { s.end("delete_listing", err) }()

	if err := s.db.DeleteListing(ctx, userID, id); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}

	s.mu.Lock()
	s.listings = slices.DeleteFunc(s.listings, func(l backend.Listing) bool { return l.ID == id })
	s.mu.Unlock()
	return nil
}

// UploadImages uploads files concurrently and returns their public URLs in
// input order. The first failure cancels the remaining uploads and fails the
// whole batch; objects that finished uploading before it are left in place.
func (s *ListingStore) UploadImages(ctx context.Context, files []ImageFile) (urls []string, err error) {
	userID := s.users.CurrentUserID()
	if userID == "" {
		return nil, s.fail("upload_images", ErrNotSignedIn)
	}

	s.begin()
	defer func() {
		s.end("upload_images", err)
		s.rec.ObserveUpload(len(files), err)
	}()

	results := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			objectPath := userID + "/" + uuid.New().String() + imageExt(f.Name)
			if err := s.storage.Upload(gctx, ListingImagesBucket, objectPath, bytes.NewReader(f.Data), f.ContentType); err != nil {
				return fmt.Errorf("failed to upload %s: %w", f.Name, err)
			}
			results[i] = s.storage.PublicURL(ListingImagesBucket, objectPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Str("userId", userID).Int("count", len(results)).Msg("uploaded listing images")
	return results, nil
}

// imageExt returns the file's extension including the dot, or "" if it has
// none.
func imageExt(name string) string {
	ext := path.Ext(name)
	if ext == "." || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return strings.ToLower(ext)
}

// LoadListings replaces the cache with the signed-in user's listings, newest
// first.
func (s *ListingStore) LoadListings(ctx context.Context) (err error) {
	userID := s.users.CurrentUserID()
	if userID == "" {
		return s.fail("load_listings", ErrNotSignedIn)
	}

	s.begin()
	defer func() { s.end("load_listings", err) }()

	listings, err := s.db.ListListingsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load listings: %w", err)
	}

	if s.users.CurrentUserID() != userID {
		log.Debug().Str("userId", userID).Msg("user changed during load, dropping listings")
		return nil
	}
	s.mu.Lock()
	s.listings = listings
	s.mu.Unlock()
	log.Debug().Str("userId", userID).Int("count", len(listings)).Msg("loaded listings")
	return nil
}

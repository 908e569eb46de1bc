package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raine/resellkit/internal/backend"
	"github.com/stretchr/testify/mock"
)

var errBoom = errors.New("boom")

// fakeAuth implements backend.Auth. Funcs default to succeeding.
type fakeAuth struct {
	SignUpFunc     func(ctx context.Context, email, password string) (*backend.SignUpResult, error)
	SignInFunc     func(ctx context.Context, email, password string) (*backend.Session, error)
	SignOutFunc    func(ctx context.Context) error
	GetSessionFunc func(ctx context.Context) (*backend.Session, error)

	mu    sync.Mutex
	subs  map[int]func(backend.AuthEvent)
	next  int
	Calls []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{subs: make(map[int]func(backend.AuthEvent))}
}

func (f *fakeAuth) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

func (f *fakeAuth) WasCalled(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.Calls, call)
}

func testSession(userID string) *backend.Session {
	return &backend.Session{
		AccessToken: "access-" + userID,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        backend.User{ID: userID, Email: userID + "@example.com"},
	}
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string) (*backend.SignUpResult, error) {
	f.record("SignUp")
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, email, password)
	}
	return &backend.SignUpResult{User: backend.User{ID: "new-user", Email: email}}, nil
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	f.record("SignInWithPassword")
	if f.SignInFunc != nil {
		return f.SignInFunc(ctx, email, password)
	}
	return testSession("user-1"), nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.record("SignOut")
	if f.SignOutFunc != nil {
		return f.SignOutFunc(ctx)
	}
	return nil
}

func (f *fakeAuth) GetSession(ctx context.Context) (*backend.Session, error) {
	f.record("GetSession")
	if f.GetSessionFunc != nil {
		return f.GetSessionFunc(ctx)
	}
	return nil, nil
}

type fakeSubscription struct {
	cancel func()
}

func (s fakeSubscription) Unsubscribe() { s.cancel() }

func (f *fakeAuth) OnAuthStateChange(fn func(backend.AuthEvent)) backend.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return fakeSubscription{cancel: func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}}
}

func (f *fakeAuth) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Emit delivers ev to every subscriber.
func (f *fakeAuth) Emit(ev backend.AuthEvent) {
	f.mu.Lock()
	fns := make([]func(backend.AuthEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// fakeProfiles is an in-memory profiles table.
type fakeProfiles struct {
	GetErr error

	mu       sync.Mutex
	rows     map[string]backend.Profile
	getCalls int
	Calls    []string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: make(map[string]backend.Profile)}
}

func (f *fakeProfiles) GetProfile(ctx context.Context, id string) (*backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	f.Calls = append(f.Calls, "GetProfile")
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeProfiles) InsertProfile(ctx context.Context, id string, fields backend.ProfilePatch) (*backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "InsertProfile")
	if _, ok := f.rows[id]; ok {
		return nil, backend.ErrConflict
	}
	p := applyProfilePatch(backend.Profile{ID: id}, fields)
	f.rows[id] = p
	return &p, nil
}

func (f *fakeProfiles) UpdateProfile(ctx context.Context, id string, patch backend.ProfilePatch) (*backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "UpdateProfile")
	p, ok := f.rows[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	p = applyProfilePatch(p, patch)
	f.rows[id] = p
	return &p, nil
}

func (f *fakeProfiles) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *fakeProfiles) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func applyProfilePatch(p backend.Profile, patch backend.ProfilePatch) backend.Profile {
	if patch.Username != nil {
		p.Username = patch.Username
	}
	if patch.FullName != nil {
		p.FullName = patch.FullName
	}
	if patch.BusinessName != nil {
		p.BusinessName = patch.BusinessName
	}
	if patch.PreferredMarketplaces != nil {
		p.PreferredMarketplaces = *patch.PreferredMarketplaces
	}
	return p
}

// fakeInventory is an in-memory inventory with the same orderings as the
// SQLite backend. UpdateItemFunc overrides the update response.
type fakeInventory struct {
	UpdateItemFunc func(ctx context.Context, id string, patch backend.ItemPatch) (*backend.InventoryItem, error)
	FailNext       error

	mu        sync.Mutex
	seq       int
	items     []backend.InventoryItem
	locations []backend.StorageLocation
}

func (f *fakeInventory) takeErr() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

func (f *fakeInventory) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeInventory) ListItems(ctx context.Context) ([]backend.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	out := slices.Clone(f.items)
	slices.Reverse(out)
	return out, nil
}

func (f *fakeInventory) InsertItem(ctx context.Context, item backend.NewInventoryItem) (*backend.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	row := backend.InventoryItem{
		ID: f.nextID("item"), SKU: item.SKU, Title: item.Title, Description: item.Description,
		Brand: item.Brand, Category: item.Category, Condition: item.Condition,
		PurchasePrice: item.PurchasePrice, SellingPrice: item.SellingPrice, Quantity: item.Quantity,
		LocationID: item.LocationID, Status: item.Status, Images: item.Images,
	}
	f.items = append(f.items, row)
	return &row, nil
}

func (f *fakeInventory) UpdateItem(ctx context.Context, id string, patch backend.ItemPatch) (*backend.InventoryItem, error) {
	if f.UpdateItemFunc != nil {
		return f.UpdateItemFunc(ctx, id, patch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		it := &f.items[i]
		if patch.Title != nil {
			it.Title = *patch.Title
		}
		if patch.SellingPrice != nil {
			it.SellingPrice = *patch.SellingPrice
		}
		if patch.Quantity != nil {
			it.Quantity = *patch.Quantity
		}
		if patch.LocationID != nil {
			if *patch.LocationID == "" {
				it.LocationID = nil
			} else {
				it.LocationID = patch.LocationID
			}
		}
		row := *it
		return &row, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeInventory) DeleteItem(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	n := len(f.items)
	f.items = slices.DeleteFunc(f.items, func(it backend.InventoryItem) bool { return it.ID == id })
	if len(f.items) == n {
		return backend.ErrNotFound
	}
	return nil
}

func (f *fakeInventory) ListLocations(ctx context.Context) ([]backend.StorageLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	out := slices.Clone(f.locations)
	slices.SortStableFunc(out, func(a, b backend.StorageLocation) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out, nil
}

func (f *fakeInventory) InsertLocation(ctx context.Context, loc backend.NewStorageLocation) (*backend.StorageLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	row := backend.StorageLocation{ID: f.nextID("loc"), Name: loc.Name, Description: loc.Description, Capacity: loc.Capacity}
	f.locations = append(f.locations, row)
	return &row, nil
}

func (f *fakeInventory) UpdateLocation(ctx context.Context, id string, patch backend.LocationPatch) (*backend.StorageLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	for i := range f.locations {
		if f.locations[i].ID != id {
			continue
		}
		loc := &f.locations[i]
		if patch.Name != nil {
			loc.Name = *patch.Name
		}
		if patch.Description != nil {
			loc.Description = patch.Description
		}
		if patch.Capacity != nil {
			loc.Capacity = patch.Capacity
		}
		row := *loc
		return &row, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeInventory) DeleteLocation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	n := len(f.locations)
	f.locations = slices.DeleteFunc(f.locations, func(l backend.StorageLocation) bool { return l.ID == id })
	if len(f.locations) == n {
		return backend.ErrNotFound
	}
	return nil
}

// fakeListings is an in-memory listings table.
type fakeListings struct {
	FailNext error

	mu       sync.Mutex
	seq      int
	rows     []backend.Listing
	inserted []backend.NewListing
}

func (f *fakeListings) takeErr() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

func (f *fakeListings) ListListingsByUser(ctx context.Context, userID string) ([]backend.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	var out []backend.Listing
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].UserID == userID {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

func (f *fakeListings) InsertListing(ctx context.Context, l backend.NewListing) (*backend.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	f.inserted = append(f.inserted, l)
	f.seq++
	row := backend.Listing{
		ID: fmt.Sprintf("listing-%d", f.seq), UserID: l.UserID, Title: l.Title, Description: l.Description,
		Condition: l.Condition, Price: l.Price, Images: l.Images, Status: l.Status, Marketplace: l.Marketplace,
	}
	f.rows = append(f.rows, row)
	return &row, nil
}

func (f *fakeListings) UpdateListing(ctx context.Context, userID, id string, patch backend.ListingPatch) (*backend.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	for i := range f.rows {
		if f.rows[i].ID != id || f.rows[i].UserID != userID {
			continue
		}
		if patch.Title != nil {
			f.rows[i].Title = *patch.Title
		}
		if patch.Price != nil {
			f.rows[i].Price = *patch.Price
		}
		if patch.Status != nil {
			f.rows[i].Status = *patch.Status
		}
		row := f.rows[i]
		return &row, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeListings) DeleteListing(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	n := len(f.rows)
	f.rows = slices.DeleteFunc(f.rows, func(l backend.Listing) bool { return l.ID == id && l.UserID == userID })
	if len(f.rows) == n {
		return backend.ErrNotFound
	}
	return nil
}

// mockStorage is a testify mock of backend.ObjectStorage.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) error {
	args := m.Called(ctx, bucket, path, r, contentType)
	return args.Error(0)
}

func (m *mockStorage) PublicURL(bucket, path string) string {
	return "https://cdn.test/" + bucket + "/" + path
}

// staticUser is a UserSource with a fixed id.
type staticUser string

func (u staticUser) CurrentUserID() string { return string(u) }

// fakeRecorder records store metrics.
type fakeRecorder struct {
	mu      sync.Mutex
	ops     []string
	uploads []int
}

func (r *fakeRecorder) ObserveStoreOp(store, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops = append(r.ops, store+"."+op+":"+result)
}

func (r *fakeRecorder) ObserveUpload(count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, count)
}

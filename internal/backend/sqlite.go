package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteBackend implements the row storage of the backend on SQLite.
// Ids and timestamps are assigned here, never by callers.
type SQLiteBackend struct {
	db  *sqlx.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL and busy timeout for concurrent readers; timestamps written in a
	// lexically sortable format.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite", dbPath)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict database permissions")
	}

	b := &SQLiteBackend{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *SQLiteBackend) init() error {
	tables := []struct {
		name  string
		query string
	}{
		{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			email_confirmed_at DATETIME
		);`},
		{"sessions", `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			user_id TEXT NOT NULL,
			encrypted_tokens TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);`},
		{"profiles", `
		CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			username TEXT,
			full_name TEXT,
			business_name TEXT,
			preferred_marketplaces TEXT,
			created_at DATETIME
		);`},
		{"inventory_items", `
		CREATE TABLE IF NOT EXISTS inventory_items (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			brand TEXT,
			category TEXT,
			condition TEXT NOT NULL CHECK (condition IN ('new','like_new','very_good','good','fair','poor')),
			purchase_price REAL NOT NULL CHECK (purchase_price >= 0),
			selling_price REAL NOT NULL CHECK (selling_price >= 0),
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			location_id TEXT,
			status TEXT NOT NULL CHECK (status IN ('in_stock','sold','reserved')),
			images TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`},
		{"storage_locations", `
		CREATE TABLE IF NOT EXISTS storage_locations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			capacity INTEGER CHECK (capacity IS NULL OR capacity > 0),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`},
		{"listings", `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			condition TEXT NOT NULL CHECK (condition IN ('new','like_new','very_good','good','fair','poor')),
			price REAL NOT NULL CHECK (price >= 0),
			images TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('draft','published')),
			marketplace TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`},
	}

	for _, t := range tables {
		if _, err := b.db.Exec(t.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	if _, err := b.db.Exec("CREATE INDEX IF NOT EXISTS idx_listings_user ON listings(user_id, created_at)"); err != nil {
		return fmt.Errorf("failed to create listings index: %w", err)
	}

	return nil
}

// Ping checks that the database is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// setClause accumulates the columns of a partial UPDATE.
type setClause struct {
	cols []string
	args []any
}

func (s *setClause) add(col string, v any) {
	s.cols = append(s.cols, col+" = ?")
	s.args = append(s.args, v)
}

// rowFilter matches a row by id and, when owner is set, by user_id.
func rowFilter(id, owner string) (string, []any) {
	if owner == "" {
		return "id = ?", []any{id}
	}
	return "id = ? AND user_id = ?", []any{id, owner}
}

// updateRow runs UPDATE table SET ... WHERE id = ? [AND user_id = ?] and
// reports ErrNotFound when no row matched. Caller holds the write lock.
func (b *SQLiteBackend) updateRow(ctx context.Context, table, id, owner string, set setClause) error {
	where, whereArgs := rowFilter(id, owner)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(set.cols, ", "), where)
	res, err := b.db.ExecContext(ctx, query, append(set.args, whereArgs...)...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (b *SQLiteBackend) deleteRow(ctx context.Context, table, id, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	where, whereArgs := rowFilter(id, owner)
	res, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), whereArgs...)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// nullIfEmpty maps "" to NULL so clearing an optional reference stores NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetProfile retrieves a profile by user id.
// Returns nil, nil if the profile doesn't exist.
func (b *SQLiteBackend) GetProfile(ctx context.Context, id string) (*Profile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getProfile(ctx, id)
}

func (b *SQLiteBackend) getProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := b.db.GetContext(ctx, &p, "SELECT * FROM profiles WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

// InsertProfile creates the profile row for a user.
func (b *SQLiteBackend) InsertProfile(ctx context.Context, id string, fields ProfilePatch) (*Profile, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: profile id is required", ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.getProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("profile %s: %w", id, ErrConflict)
	}

	var marketplaces StringList
	if fields.PreferredMarketplaces != nil {
		marketplaces = normalizeMarketplaces(*fields.PreferredMarketplaces)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, full_name, business_name, preferred_marketplaces, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, fields.Username, fields.FullName, fields.BusinessName, marketplaces, b.now())
	if err != nil {
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}

	return b.getProfile(ctx, id)
}

// UpdateProfile applies a partial update to an existing profile.
func (b *SQLiteBackend) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var set setClause
	if patch.Username != nil {
		set.add("username", *patch.Username)
	}
	if patch.FullName != nil {
		set.add("full_name", *patch.FullName)
	}
	if patch.BusinessName != nil {
		set.add("business_name", *patch.BusinessName)
	}
	if patch.PreferredMarketplaces != nil {
		set.add("preferred_marketplaces", normalizeMarketplaces(*patch.PreferredMarketplaces))
	}

	if len(set.cols) == 0 {
		p, err := b.getProfile(ctx, id)
		if err == nil && p == nil {
			err = fmt.Errorf("profiles %s: %w", id, ErrNotFound)
		}
		return p, err
	}

	if err := b.updateRow(ctx, "profiles", id, "", set); err != nil {
		return nil, err
	}
	return b.getProfile(ctx, id)
}

// ListItems returns all inventory items, newest first.
func (b *SQLiteBackend) ListItems(ctx context.Context) ([]InventoryItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	items := []InventoryItem{}
	if err := b.db.SelectContext(ctx, &items, "SELECT * FROM inventory_items ORDER BY created_at DESC, rowid DESC"); err != nil {
		return nil, fmt.Errorf("failed to query inventory items: %w", err)
	}
	return items, nil
}

func (b *SQLiteBackend) getItem(ctx context.Context, id string) (*InventoryItem, error) {
	var item InventoryItem
	if err := b.db.GetContext(ctx, &item, "SELECT * FROM inventory_items WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to query inventory item: %w", err)
	}
	return &item, nil
}

// InsertItem stores a new inventory item and returns the stored row.
func (b *SQLiteBackend) InsertItem(ctx context.Context, item NewInventoryItem) (*InventoryItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	now := b.now()
	var locationID any
	if item.LocationID != nil {
		locationID = nullIfEmpty(*item.LocationID)
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, sku, title, description, brand, category, condition,
			purchase_price, selling_price, quantity, location_id, status, images,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, item.SKU, item.Title, item.Description, item.Brand, item.Category, item.Condition,
		item.PurchasePrice, item.SellingPrice, item.Quantity, locationID, item.Status, StringList(item.Images),
		now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert inventory item: %w", err)
	}

	return b.getItem(ctx, id)
}

// UpdateItem applies a partial update and returns the stored row.
func (b *SQLiteBackend) UpdateItem(ctx context.Context, id string, patch ItemPatch) (*InventoryItem, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var set setClause
	if patch.SKU != nil {
		set.add("sku", *patch.SKU)
	}
	if patch.Title != nil {
		set.add("title", *patch.Title)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if patch.Brand != nil {
		set.add("brand", *patch.Brand)
	}
	if patch.Category != nil {
		set.add("category", *patch.Category)
	}
	if patch.Condition != nil {
		set.add("condition", *patch.Condition)
	}
	if patch.PurchasePrice != nil {
		set.add("purchase_price", *patch.PurchasePrice)
	}
	if patch.SellingPrice != nil {
		set.add("selling_price", *patch.SellingPrice)
	}
	if patch.Quantity != nil {
		set.add("quantity", *patch.Quantity)
	}
	if patch.LocationID != nil {
		set.add("location_id", nullIfEmpty(*patch.LocationID))
	}
	if patch.Status != nil {
		set.add("status", *patch.Status)
	}
	if patch.Images != nil {
		set.add("images", StringList(*patch.Images))
	}
	set.add("updated_at", b.now())

	if err := b.updateRow(ctx, "inventory_items", id, "", set); err != nil {
		return nil, err
	}
	return b.getItem(ctx, id)
}

// DeleteItem removes an inventory item.
func (b *SQLiteBackend) DeleteItem(ctx context.Context, id string) error {
	return b.deleteRow(ctx, "inventory_items", id, "")
}

// ListLocations returns all storage locations ordered by name.
func (b *SQLiteBackend) ListLocations(ctx context.Context) ([]StorageLocation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	locations := []StorageLocation{}
	if err := b.db.SelectContext(ctx, &locations, "SELECT * FROM storage_locations ORDER BY name COLLATE NOCASE ASC, rowid ASC"); err != nil {
		return nil, fmt.Errorf("failed to query storage locations: %w", err)
	}
	return locations, nil
}

func (b *SQLiteBackend) getLocation(ctx context.Context, id string) (*StorageLocation, error) {
	var loc StorageLocation
	if err := b.db.GetContext(ctx, &loc, "SELECT * FROM storage_locations WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to query storage location: %w", err)
	}
	return &loc, nil
}

// InsertLocation stores a new storage location.
func (b *SQLiteBackend) InsertLocation(ctx context.Context, loc NewStorageLocation) (*StorageLocation, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	now := b.now()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO storage_locations (id, name, description, capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, loc.Name, loc.Description, loc.Capacity, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert storage location: %w", err)
	}

	return b.getLocation(ctx, id)
}

// UpdateLocation applies a partial update to a storage location.
func (b *SQLiteBackend) UpdateLocation(ctx context.Context, id string, patch LocationPatch) (*StorageLocation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var set setClause
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if patch.Capacity != nil {
		set.add("capacity", *patch.Capacity)
	}
	set.add("updated_at", b.now())

	if err := b.updateRow(ctx, "storage_locations", id, "", set); err != nil {
		return nil, err
	}
	return b.getLocation(ctx, id)
}

// DeleteLocation removes a storage location. Items referencing it keep their
// location_id.
func (b *SQLiteBackend) DeleteLocation(ctx context.Context, id string) error {
	return b.deleteRow(ctx, "storage_locations", id, "")
}

// ListListingsByUser returns a user's listings, newest first.
func (b *SQLiteBackend) ListListingsByUser(ctx context.Context, userID string) ([]Listing, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	listings := []Listing{}
	err := b.db.SelectContext(ctx, &listings,
		"SELECT * FROM listings WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	return listings, nil
}

func (b *SQLiteBackend) getListing(ctx context.Context, id string) (*Listing, error) {
	var l Listing
	if err := b.db.GetContext(ctx, &l, "SELECT * FROM listings WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to query listing: %w", err)
	}
	return &l, nil
}

// InsertListing stores a new listing.
func (b *SQLiteBackend) InsertListing(ctx context.Context, listing NewListing) (*Listing, error) {
	if err := listing.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	images := StringList(listing.Images)
	if images == nil {
		images = StringList{}
	}

	id := uuid.New().String()
	now := b.now()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, user_id, title, description, condition, price, images, status, marketplace,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, listing.UserID, listing.Title, listing.Description, listing.Condition, listing.Price,
		images, listing.Status, listing.Marketplace, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert listing: %w", err)
	}

	return b.getListing(ctx, id)
}

// UpdateListing applies a partial update to one of userID's listings.
// Listings of other users are reported as ErrNotFound.
func (b *SQLiteBackend) UpdateListing(ctx context.Context, userID, id string, patch ListingPatch) (*Listing, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var set setClause
	if patch.Title != nil {
		set.add("title", *patch.Title)
	}
	if patch.Description != nil {
		set.add("description", *patch.Description)
	}
	if patch.Condition != nil {
		set.add("condition", *patch.Condition)
	}
	if patch.Price != nil {
		set.add("price", *patch.Price)
	}
	if patch.Images != nil {
		images := StringList(*patch.Images)
		if images == nil {
			images = StringList{}
		}
		set.add("images", images)
	}
	if patch.Status != nil {
		set.add("status", *patch.Status)
	}
	if patch.Marketplace != nil {
		set.add("marketplace", *patch.Marketplace)
	}
	set.add("updated_at", b.now())

	if err := b.updateRow(ctx, "listings", id, userID, set); err != nil {
		return nil, err
	}
	return b.getListing(ctx, id)
}

// DeleteListing removes one of userID's listings.
func (b *SQLiteBackend) DeleteListing(ctx context.Context, userID, id string) error {
	return b.deleteRow(ctx, "listings", id, userID)
}

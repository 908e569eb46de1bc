package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/raine/resellkit/internal/backend"
	"github.com/rs/zerolog/log"
)

// NoLocation is shown for items without a resolvable storage location.
const NoLocation = "No location"

// InventoryStore caches inventory items and storage locations.
type InventoryStore struct {
	callState

	db backend.Inventory

	mu        sync.RWMutex
	items     []backend.InventoryItem
	locations []backend.StorageLocation
}

func NewInventoryStore(db backend.Inventory, rec Recorder) *InventoryStore {
	return &InventoryStore{
		callState: callState{name: "inventory", rec: recorderOrNop(rec)},
		db:        db,
	}
}

// Reset drops the cached items and locations.
func (s *InventoryStore) Reset() {
	s.mu.Lock()
	s.items = nil
	s.locations = nil
	s.mu.Unlock()
}

// Items returns a copy of the cached items, newest first.
func (s *InventoryStore) Items() []backend.InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Locations returns a copy of the cached locations, ordered by name.
func (s *InventoryStore) Locations() []backend.StorageLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.locations)
}

// LocationName resolves a location id against the cache.
func (s *InventoryStore) LocationName(id string) string {
	if id == "" {
		return NoLocation
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loc := range s.locations {
		if loc.ID == id {
			return loc.Name
		}
	}
	return NoLocation
}

// ItemLocationName resolves the location of an item.
func (s *InventoryStore) ItemLocationName(item backend.InventoryItem) string {
	if item.LocationID == nil {
		return NoLocation
	}
	return s.LocationName(*item.LocationID)
}

func (s *InventoryStore) FetchItems(ctx context.Context) (err error) {
	s.begin()
	defer func() { s.end("fetch_items", err) }()

	items, err := s.db.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch items: %w", err)
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	log.Debug().Int("count", len(items)).Msg("fetched inventory items")
	return nil
}

func (s *InventoryStore) FetchLocations(ctx context.Context) (err error) {
	s.begin()
	defer func() { s.end("fetch_locations", err) }()

	locations, err := s.db.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch locations: %w", err)
	}

	s.mu.Lock()
	s.locations = locations
	s.mu.Unlock()
	log.Debug().Int("count", len(locations)).Msg("fetched storage locations")
	return nil
}

// AddItem inserts an item and puts the stored row at the front of the cache.
func (s *InventoryStore) AddItem(ctx context.Context, item backend.NewInventoryItem) (created *backend.InventoryItem, err error) {
	s.begin()
	defer func() { s.end("add_item", err) }()

	created, err = s.db.InsertItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}

	s.mu.Lock()
	s.items = slices.Insert(s.items, 0, *created)
	s.mu.Unlock()
	log.Debug().Str("itemId", created.ID).Str("sku", created.SKU).Msg("added inventory item")
	return created, nil
}

// UpdateItem patches an item and merges the returned row into the cached one.
func (s *InventoryStore) UpdateItem(ctx context.Context, id string, patch backend.ItemPatch) (updated *backend.InventoryItem, err error) {
	s.begin()
	defer func() { s.end("update_item", err) }()

	updated, err = s.db.UpdateItem(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		merged, err := mergeRow(s.items[i], *updated)
		if err != nil {
			return nil, err
		}
		s.items[i] = merged
		return &merged, nil
	}
	return updated, nil
}

func (s *InventoryStore) DeleteItem(ctx context.Context, id string) (err error) {
	s.begin()
	defer func() { s.end("delete_item", err) }()

	if err := s.db.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	s.mu.Lock()
	s.items = slices.DeleteFunc(s.items, func(it backend.InventoryItem) bool { return it.ID == id })
	s.mu.Unlock()
	return nil
}

// AddLocation inserts a location and places the stored row at its position
// in name order.
func (s *InventoryStore) AddLocation(ctx context.Context, loc backend.NewStorageLocation) (created *backend.StorageLocation, err error) {
	s.begin()
	defer func() { s.end("add_location", err) }()

	created, err = s.db.InsertLocation(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to add location: %w", err)
	}

	s.mu.Lock()
	s.locations = insertByName(s.locations, *created)
	s.mu.Unlock()
	log.Debug().Str("locationId", created.ID).Str("name", created.Name).Msg("added storage location")
	return created, nil
}

// insertByName inserts loc after every location whose name sorts before or
// equal to it, case-insensitively, matching the backend's ordering.
func insertByName(locations []backend.StorageLocation, loc backend.StorageLocation) []backend.StorageLocation {
	key := strings.ToLower(loc.Name)
	i := len(locations)
	for j, l := range locations {
		if strings.ToLower(l.Name) > key {
			i = j
			break
		}
	}
	return slices.Insert(locations, i, loc)
}

// UpdateLocation patches a location and merges the returned row into the
// cached one.
func (s *InventoryStore) UpdateLocation(ctx context.Context, id string, patch backend.LocationPatch) (updated *backend.StorageLocation, err error) {
	s.begin()
	defer func() { s.end("update_location", err) }()

	updated, err = s.db.UpdateLocation(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update location: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.locations {
		if s.locations[i].ID != id {
			continue
		}
		merged, err := mergeRow(s.locations[i], *updated)
		if err != nil {
			return nil, err
		}
		s.locations[i] = merged
		return &merged, nil
	}
	return updated, nil
}

// DeleteLocation removes a location. Items keep their location_id, which
// then resolves to NoLocation.
func (s *InventoryStore) DeleteLocation(ctx context.Context, id string) (err error) {
	s.begin()
	defer func() { s.end("delete_location", err) }()

	if err := s.db.DeleteLocation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}

	s.mu.Lock()
	s.locations = slices.DeleteFunc(s.locations, func(l backend.StorageLocation) bool { return l.ID == id })
	s.mu.Unlock()
	return nil
}

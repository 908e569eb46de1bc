package backend

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Condition grades an item. Inventory items and listings share the same scale.
type Condition string

const (
	ConditionNew      Condition = "new"
	ConditionLikeNew  Condition = "like_new"
	ConditionVeryGood Condition = "very_good"
	ConditionGood     Condition = "good"
	ConditionFair     Condition = "fair"
	ConditionPoor     Condition = "poor"
)

// Conditions lists every condition from best to worst.
var Conditions = []Condition{
	ConditionNew, ConditionLikeNew, ConditionVeryGood, ConditionGood, ConditionFair, ConditionPoor,
}

func (c Condition) Valid() bool {
	return slices.Contains(Conditions, c)
}

// ParseCondition accepts the wire value ("like_new") and is lenient about
// case, spaces and dashes ("Like New", "like-new").
func ParseCondition(s string) (Condition, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	c := Condition(norm)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown condition %q", ErrInvalid, s)
	}
	return c, nil
}

type ItemStatus string

const (
	ItemInStock  ItemStatus = "in_stock"
	ItemSold     ItemStatus = "sold"
	ItemReserved ItemStatus = "reserved"
)

func (s ItemStatus) Valid() bool {
	return s == ItemInStock || s == ItemSold || s == ItemReserved
}

type ListingStatus string

const (
	ListingDraft     ListingStatus = "draft"
	ListingPublished ListingStatus = "published"
)

func (s ListingStatus) Valid() bool {
	return s == ListingDraft || s == ListingPublished
}

// StringList is a list of strings stored as a JSON array in a TEXT column.
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	*l = out
	return nil
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// User is an account in the auth service.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	EmailConfirmedAt *time.Time `db:"email_confirmed_at" json:"email_confirmed_at,omitempty"`
}

// Session is an authenticated session for a user.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Profile is the business profile attached 1:1 to a user.
type Profile struct {
	ID                    string     `db:"id" json:"id"`
	Username              *string    `db:"username" json:"username,omitempty"`
	FullName              *string    `db:"full_name" json:"full_name,omitempty"`
	BusinessName          *string    `db:"business_name" json:"business_name,omitempty"`
	PreferredMarketplaces StringList `db:"preferred_marketplaces" json:"preferred_marketplaces,omitempty"`
	CreatedAt             *time.Time `db:"created_at" json:"created_at,omitempty"`
}

// ProfilePatch holds the profile fields to change. Nil fields are untouched.
type ProfilePatch struct {
	Username              *string   `json:"username,omitempty"`
	FullName              *string   `json:"full_name,omitempty"`
	BusinessName          *string   `json:"business_name,omitempty"`
	PreferredMarketplaces *[]string `json:"preferred_marketplaces,omitempty"`
}

// normalizeMarketplaces treats marketplaces as a set: trimmed, deduplicated
// and sorted so equal sets are stored identically.
func normalizeMarketplaces(in []string) StringList {
	out := make(StringList, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out
}

// InventoryItem is a unit of stock. LocationID is a weak reference to a
// StorageLocation that may no longer exist. Rows encode every column,
// nulls included.
type InventoryItem struct {
	ID            string     `db:"id" json:"id"`
	SKU           string     `db:"sku" json:"sku"`
	Title         string     `db:"title" json:"title"`
	Description   *string    `db:"description" json:"description"`
	Brand         *string    `db:"brand" json:"brand"`
	Category      *string    `db:"category" json:"category"`
	Condition     Condition  `db:"condition" json:"condition"`
	PurchasePrice float64    `db:"purchase_price" json:"purchase_price"`
	SellingPrice  float64    `db:"selling_price" json:"selling_price"`
	Quantity      int        `db:"quantity" json:"quantity"`
	LocationID    *string    `db:"location_id" json:"location_id"`
	Status        ItemStatus `db:"status" json:"status"`
	Images        StringList `db:"images" json:"images"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// NewInventoryItem is the input for inserting an item. Status defaults to
// in_stock.
type NewInventoryItem struct {
	SKU           string
	Title         string
	Description   *string
	Brand         *string
	Category      *string
	Condition     Condition
	PurchasePrice float64
	SellingPrice  float64
	Quantity      int
	LocationID    *string
	Status        ItemStatus
	Images        []string
}

func (n *NewInventoryItem) Validate() error {
	var errs []error
	if strings.TrimSpace(n.SKU) == "" {
		errs = append(errs, errors.New("sku is required"))
	}
	if strings.TrimSpace(n.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if !n.Condition.Valid() {
		errs = append(errs, fmt.Errorf("invalid condition %q", n.Condition))
	}
	if n.Status == "" {
		n.Status = ItemInStock
	}
	if !n.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", n.Status))
	}
	errs = append(errs, checkAmounts(&n.PurchasePrice, &n.SellingPrice, &n.Quantity)...)
	return invalid(errs)
}

// ItemPatch holds the item fields to change. Nil fields are untouched.
// A LocationID pointing at "" clears the location.
type ItemPatch struct {
	SKU           *string
	Title         *string
	Description   *string
	Brand         *string
	Category      *string
	Condition     *Condition
	PurchasePrice *float64
	SellingPrice  *float64
	Quantity      *int
	LocationID    *string
	Status        *ItemStatus
	Images        *[]string
}

func (p ItemPatch) Validate() error {
	var errs []error
	if p.SKU != nil && strings.TrimSpace(*p.SKU) == "" {
		errs = append(errs, errors.New("sku cannot be empty"))
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		errs = append(errs, errors.New("title cannot be empty"))
	}
	if p.Condition != nil && !p.Condition.Valid() {
		errs = append(errs, fmt.Errorf("invalid condition %q", *p.Condition))
	}
	if p.Status != nil && !p.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", *p.Status))
	}
	errs = append(errs, checkAmounts(p.PurchasePrice, p.SellingPrice, p.Quantity)...)
	return invalid(errs)
}

// StorageLocation is a place where inventory is kept.
type StorageLocation struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	Capacity    *int      `db:"capacity" json:"capacity"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type NewStorageLocation struct {
	Name        string
	Description *string
	Capacity    *int
}

func (n NewStorageLocation) Validate() error {
	var errs []error
	if strings.TrimSpace(n.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if n.Capacity != nil && *n.Capacity <= 0 {
		errs = append(errs, errors.New("capacity must be positive"))
	}
	return invalid(errs)
}

type LocationPatch struct {
	Name        *string
	Description *string
	Capacity    *int
}

func (p LocationPatch) Validate() error {
	var errs []error
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		errs = append(errs, errors.New("name cannot be empty"))
	}
	if p.Capacity != nil && *p.Capacity <= 0 {
		errs = append(errs, errors.New("capacity must be positive"))
	}
	return invalid(errs)
}

// Listing is a marketplace listing owned by one user.
type Listing struct {
	ID          string        `db:"id" json:"id"`
	UserID      string        `db:"user_id" json:"user_id"`
	Title       string        `db:"title" json:"title"`
	Description string        `db:"description" json:"description"`
	Condition   Condition     `db:"condition" json:"condition"`
	Price       float64       `db:"price" json:"price"`
	Images      StringList    `db:"images" json:"images"`
	Status      ListingStatus `db:"status" json:"status"`
	Marketplace string        `db:"marketplace" json:"marketplace"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// NewListing is the input for inserting a listing.
type NewListing struct {
	UserID      string
	Title       string
	Description string
	Condition   Condition
	Price       float64
	Images      []string
	Status      ListingStatus
	Marketplace string
}

func (n NewListing) Validate() error {
	var errs []error
	if n.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if strings.TrimSpace(n.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if !n.Condition.Valid() {
		errs = append(errs, fmt.Errorf("invalid condition %q", n.Condition))
	}
	if !n.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", n.Status))
	}
	if n.Price < 0 {
		errs = append(errs, errors.New("price must not be negative"))
	}
	return invalid(errs)
}

type ListingPatch struct {
	Title       *string
	Description *string
	Condition   *Condition
	Price       *float64
	Images      *[]string
	Status      *ListingStatus
	Marketplace *string
}

func (p ListingPatch) Validate() error {
	var errs []error
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		errs = append(errs, errors.New("title cannot be empty"))
	}
	if p.Condition != nil && !p.Condition.Valid() {
		errs = append(errs, fmt.Errorf("invalid condition %q", *p.Condition))
	}
	if p.Status != nil && !p.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", *p.Status))
	}
	if p.Price != nil && *p.Price < 0 {
		errs = append(errs, errors.New("price must not be negative"))
	}
	return invalid(errs)
}

func checkAmounts(purchase, selling *float64, quantity *int) []error {
	var errs []error
	if purchase != nil && *purchase < 0 {
		errs = append(errs, errors.New("purchase_price must not be negative"))
	}
	if selling != nil && *selling < 0 {
		errs = append(errs, errors.New("selling_price must not be negative"))
	}
	if quantity != nil && *quantity < 0 {
		errs = append(errs, errors.New("quantity must not be negative"))
	}
	return errs
}

func invalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// PantryItem is one entry of a household pantry.
type PantryItem struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Quantity       Quantity  `json:"quantity"`
	Unit           string    `json:"unit"`
	ExpirationDate string    `json:"expirationDate,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	AddedAt        time.Time `json:"addedAt"`
}

// UnmarshalJSON accepts the older "dateAdded" spelling of AddedAt.
func (p *PantryItem) UnmarshalJSON(data []byte) error {
	type plain PantryItem
	var raw struct {
		plain
		DateAdded *time.Time `json:"dateAdded,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PantryItem(raw.plain)
	if p.AddedAt.IsZero() && raw.DateAdded != nil {
		p.AddedAt = *raw.DateAdded
	}
	return nil
}

// ShoppingItem is one entry of the shopping list.
type ShoppingItem struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Quantity  Quantity   `json:"quantity"`
	Unit      string     `json:"unit"`
	Category  string     `json:"category"`
	Completed bool       `json:"completed"`
	AutoAdded bool       `json:"autoAdded,omitempty"`
	AddedAt   *time.Time `json:"addedAt,omitempty"`
}

// ReminderEntry records the last expiration reminder sent for one
// (item, expiration date) pair.
type ReminderEntry struct {
	ItemID           string    `json:"itemId"`
	ItemName         string    `json:"itemName"`
	ExpirationDate   string    `json:"expirationDate"`
	LastReminderDate time.Time `json:"lastReminderDate"`
}

// Category defaults.
const (
	DefaultPantryCategory   = "Uncategorized"
	DefaultShoppingCategory = "Other"
	DefaultUnit             = "pieces"
)

// Categories offered by the client when adding an item.
var Categories = []string{
	"Fruits & Vegetables",
	"Meat & Poultry",
	"Dairy & Eggs",
	"Grains & Cereals",
	"Canned Goods",
	"Frozen Foods",
	"Snacks",
	"Beverages",
	"Condiments & Sauces",
	"Baking Supplies",
	"Other",
}

// Units is the fixed set of accepted units of measure.
var Units = []string{
	"pieces", "kg", "g", "lbs", "oz", "liters", "ml",
	"cups", "tbsp", "tsp", "cans", "bottles", "packages",
}

// ValidUnit reports whether u is one of Units.
func ValidUnit(u string) bool {
	for _, v := range Units {
		if v == u {
			return true
		}
	}
	return false
}

// SameName compares item names the way duplicate detection does.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Quantity is an item amount. It is stored as a JSON number but older
// collections kept it as a string, so both forms decode.
type Quantity float64

// ParseQuantity parses user input such as "1.5". Only finite, non-negative
// amounts are quantities.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing quantity %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("quantity %q out of range", s)
	}
	return Quantity(f), nil
}

// String renders the quantity without trailing zeros.
func (q Quantity) String() string {
	return strconv.FormatFloat(float64(q), 'f', -1, 64)
}

// UnmarshalJSON decodes a number or a numeric string. An unparseable
// string decodes as zero.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseQuantity(s)
		if err != nil {
			*q = 0
			return nil
		}
		*q = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*q = Quantity(f)
	return nil
}

// Permission is the tri-state browser notification permission.
type Permission string

// Notification permission states.
const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Valid reports whether p is one of the known states.
func (p Permission) Valid() bool {
	return p == PermissionDefault || p == PermissionGranted || p == PermissionDenied
}

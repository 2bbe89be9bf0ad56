package store

import (
	"time"

	"github.com/danmuck/ratewire/internal/protocol"
)

// DateFormat is the human-readable timestamp carried in rating payloads.
const DateFormat = "2006-01-02 15:04:05"

// Filter is one named evaluation axis with optional numeric bounds. A nil
// bound means the side is unbounded.
type Filter struct {
	ID   int64
	Name string
	Min  *float64
	Max  *float64
}

func (f Filter) Wire() map[string]any {
	return map[string]any{
		protocol.KeyID:     f.ID,
		protocol.KeyFilter: f.Name,
		protocol.KeyMin:    f.Min,
		protocol.KeyMax:    f.Max,
	}
}

// Product is one named item under evaluation.
type Product struct {
	ID   int64
	Name string
}

func (p Product) Wire() map[string]any {
	return map[string]any{
		protocol.KeyID:      p.ID,
		protocol.KeyProduct: p.Name,
	}
}

// Rating is one evaluation of a product against a filter. The value is
// clamped into the filter bounds at insertion and never reclamped afterwards.
type Rating struct {
	ID      int64
	Value   float64
	Address string
	Date    time.Time
}

func (r Rating) Wire() map[string]any {
	return map[string]any{
		protocol.KeyID:      r.ID,
		protocol.KeyAddress: r.Address,
		protocol.KeyRating:  r.Value,
		protocol.KeyDate:    r.Date.Format(DateFormat),
	}
}

// WireFilters converts a filter list for a content payload.
func WireFilters(filters []Filter) []map[string]any {
	out := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		out = append(out, f.Wire())
	}
	return out
}

// WireProducts converts a product list for a content payload.
func WireProducts(products []Product) []map[string]any {
	out := make([]map[string]any, 0, len(products))
	for _, p := range products {
		out = append(out, p.Wire())
	}
	return out
}

// WireRatings converts a rating list for a content payload.
func WireRatings(ratings []Rating) []map[string]any {
	out := make([]map[string]any, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, r.Wire())
	}
	return out
}

package takeoff

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Item is the normalized takeoff line item. Numeric and optional fields
// use pointers so "unknown" stays null all the way to JSON, never zero.
type Item struct {
	ID            string   `json:"id"`
	Category      string   `json:"category,omitempty"`
	Subcategory   string   `json:"subcategory,omitempty"`
	Name          string   `json:"name,omitempty"`
	Description   string   `json:"description,omitempty"`
	Quantity      *float64 `json:"quantity"`
	Unit          *string  `json:"unit"`
	UnitCost      *float64 `json:"unit_cost"`
	TotalCost     *float64 `json:"total_cost"`
	Location      *string  `json:"location"`
	PageNumber    *int     `json:"page_number"`
	PageReference *string  `json:"page_reference"`
	Notes         *string  `json:"notes"`
}

// fieldCandidates maps each logical attribute to an ordered list of raw
// field names seen across takeoff producers. Resolution is
// first-non-empty-wins; adding a new producer format is a data change here,
// not a code change.
var fieldCandidates = map[string][]string{
	"id":             {"id", "item_id", "itemId", "uuid", "key"},
	"category":       {"category", "trade", "division", "csi_division"},
	"subcategory":    {"subcategory", "sub_category", "subtrade", "section"},
	"name":           {"name", "item", "item_name", "itemName", "label", "material"},
	"description":    {"description", "desc", "details", "item_description"},
	"quantity":       {"quantity", "qty", "amount", "count", "total_quantity"},
	"unit":           {"unit", "uom", "unit_of_measure", "units"},
	"unit_cost":      {"unit_cost", "unitCost", "unit_price", "unitPrice", "price_per_unit", "rate"},
	"total_cost":     {"total_cost", "totalCost", "total_price", "extended_cost", "total", "cost"},
	"location":       {"location", "area", "room", "zone"},
	"page_number":    {"page_number", "pageNumber", "page", "page_num", "sheet_number"},
	"page_reference": {"page_reference", "pageRef", "page_ref", "sheet", "sheet_ref"},
	"notes":          {"notes", "note", "comments", "remarks"},
}

// NormalizeItems converts heterogeneous raw takeoff records into normalized
// items. It never fails: malformed entries yield items with null fields,
// and normalizing already-normalized items is a no-op apart from field
// passthrough. Items without any usable identity still get an ID.
func NormalizeItems(raw []map[string]any) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		items = append(items, normalizeItem(r))
	}
	return items
}

// ParseItemsJSON unmarshals a JSON array of raw takeoff records and
// normalizes them. Unparsable input yields an empty slice, never an error.
func ParseItemsJSON(data string) []Item {
	if strings.TrimSpace(data) == "" {
		return []Item{}
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return []Item{}
	}
	return NormalizeItems(raw)
}

// ItemsJSON serializes normalized items back to storage form.
func ItemsJSON(items []Item) string {
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func normalizeItem(r map[string]any) Item {
	item := Item{
		ID:          coalesceString(r, "id"),
		Category:    coalesceString(r, "category"),
		Subcategory: coalesceString(r, "subcategory"),
		Name:        coalesceString(r, "name"),
		Description: coalesceString(r, "description"),
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	item.Quantity = coalesceNumber(r, "quantity")
	item.UnitCost = coalesceNumber(r, "unit_cost")
	item.TotalCost = coalesceNumber(r, "total_cost")
	item.Unit = coalesceStringPtr(r, "unit")
	item.Location = coalesceStringPtr(r, "location")
	item.PageReference = coalesceStringPtr(r, "page_reference")
	item.Notes = coalesceStringPtr(r, "notes")

	if n := coalesceNumber(r, "page_number"); n != nil {
		page := int(*n)
		if page > 0 {
			item.PageNumber = &page
		}
	}

	return item
}

// coalesceString returns the first non-empty string value among the
// attribute's candidate fields.
func coalesceString(r map[string]any, attr string) string {
	for _, key := range fieldCandidates[attr] {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func coalesceStringPtr(r map[string]any, attr string) *string {
	if s := coalesceString(r, attr); s != "" {
		return &s
	}
	return nil
}

// coalesceNumber returns the first parseable numeric value among the
// attribute's candidate fields, or nil. Strings are parsed leniently:
// the first numeric token is extracted and thousands separators stripped.
func coalesceNumber(r map[string]any, attr string) *float64 {
	for _, key := range fieldCandidates[attr] {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if f, ok := asNumber(v); ok {
			return &f
		}
	}
	return nil
}

var numericTokenPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseLenientNumber(n)
	}
	return 0, false
}

// parseLenientNumber extracts the first numeric token from a string like
// "1,240 LF" or "$3.50/ea". Unparsable input reports false.
func parseLenientNumber(s string) (float64, bool) {
	tok := numericTokenPattern.FindString(s)
	if tok == "" {
		return 0, false
	}
	tok = strings.ReplaceAll(tok, ",", "")
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		// IDs and references sometimes arrive as numbers.
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool, int, int64:
		return fmt.Sprintf("%v", s)
	}
	return ""
}

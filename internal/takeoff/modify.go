package takeoff

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildra/planchat/internal/storage"
)

// Action is the kind of takeoff modification.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// Modification is one parsed add/update/remove operation. Item carries the
// partial fields to set; for removals only ItemID matters.
type Modification struct {
	Action Action `json:"action"`
	ItemID string `json:"itemId,omitempty"`
	Item   Item   `json:"item,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Dedupe collapses a parsed modification list: at most one update per item
// ID (later non-null fields fill gaps in the first), at most one add per
// normalized description, removals always kept. Input order is preserved
// at each surviving modification's first occurrence.
func Dedupe(mods []Modification) []Modification {
	var out []Modification
	updateIdx := make(map[string]int)
	seenAdds := make(map[string]bool)

	for _, m := range mods {
		switch m.Action {
		case ActionUpdate:
			if idx, ok := updateIdx[m.ItemID]; ok {
				merged := out[idx]
				mergePatch(&merged.Item, m.Item)
				if merged.Reason == "" {
					merged.Reason = m.Reason
				}
				out[idx] = merged
				continue
			}
			updateIdx[m.ItemID] = len(out)
			out = append(out, m)
		case ActionAdd:
			key := addKey(m.Item)
			if key != "" && seenAdds[key] {
				continue
			}
			seenAdds[key] = true
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}
	return out
}

// mergePatch fills empty/nil fields of dst from src without overwriting
// fields dst already set.
func mergePatch(dst *Item, src Item) {
	if dst.Category == "" {
		dst.Category = src.Category
	}
	if dst.Subcategory == "" {
		dst.Subcategory = src.Subcategory
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.Quantity == nil {
		dst.Quantity = src.Quantity
	}
	if dst.Unit == nil {
		dst.Unit = src.Unit
	}
	if dst.UnitCost == nil {
		dst.UnitCost = src.UnitCost
	}
	if dst.TotalCost == nil {
		dst.TotalCost = src.TotalCost
	}
	if dst.Location == nil {
		dst.Location = src.Location
	}
	if dst.PageNumber == nil {
		dst.PageNumber = src.PageNumber
	}
	if dst.PageReference == nil {
		dst.PageReference = src.PageReference
	}
	if dst.Notes == nil {
		dst.Notes = src.Notes
	}
}

func addKey(item Item) string {
	key := item.Name
	if key == "" {
		key = item.Description
	}
	return strings.ToLower(strings.TrimSpace(key))
}

// RecordStore is the snapshot storage surface the Modifier needs.
// Implemented by storage.Store.
type RecordStore interface {
	LatestTakeoffRecord(planID, userID string) (storage.TakeoffRecord, error)
	SaveTakeoffRecord(storage.TakeoffRecord) error
}

// Modifier applies parsed modifications to the latest takeoff snapshot for
// a (plan, user) pair, writing the result as a new snapshot.
type Modifier struct {
	store RecordStore
}

// NewModifier creates a Modifier backed by the given store.
func NewModifier(store RecordStore) *Modifier {
	return &Modifier{store: store}
}

// Apply performs a read-modify-write of the takeoff: loads the latest
// snapshot (starting empty when none exists), applies each modification in
// order, and saves a new snapshot. Returns the number of modifications
// that changed anything. Unknown item IDs on update/remove are skipped,
// not errors.
func (m *Modifier) Apply(planID, userID string, mods []Modification) (int, error) {
	if len(mods) == 0 {
		return 0, nil
	}

	var items []Item
	rec, err := m.store.LatestTakeoffRecord(planID, userID)
	switch {
	case err == storage.ErrNotFound:
		items = []Item{}
	case err != nil:
		return 0, fmt.Errorf("loading takeoff for plan %s: %w", planID, err)
	default:
		items = ParseItemsJSON(rec.ItemsJSON)
	}

	applied := 0
	for _, mod := range mods {
		switch mod.Action {
		case ActionAdd:
			added := mod.Item
			if added.ID == "" {
				added.ID = uuid.NewString()
			}
			recomputeTotal(&added)
			items = append(items, added)
			applied++
		case ActionUpdate:
			if updateItem(items, mod) {
				applied++
			}
		case ActionRemove:
			if filtered, ok := removeItem(items, mod.ItemID); ok {
				items = filtered
				applied++
			}
		}
	}

	if applied == 0 {
		return 0, nil
	}

	newRec := storage.TakeoffRecord{
		ID:        uuid.NewString(),
		PlanID:    planID,
		UserID:    userID,
		ItemsJSON: ItemsJSON(items),
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.SaveTakeoffRecord(newRec); err != nil {
		return 0, fmt.Errorf("saving modified takeoff: %w", err)
	}
	return applied, nil
}

func updateItem(items []Item, mod Modification) bool {
	for i := range items {
		if items[i].ID != mod.ItemID {
			continue
		}
		applyPatch(&items[i], mod.Item)
		return true
	}
	return false
}

func removeItem(items []Item, id string) ([]Item, bool) {
	for i := range items {
		if items[i].ID == id {
			return append(items[:i:i], items[i+1:]...), true
		}
	}
	return items, false
}

// applyPatch overwrites dst fields with any non-empty/non-nil patch
// fields, then refreshes the derived total cost.
func applyPatch(dst *Item, patch Item) {
	explicitTotal := patch.TotalCost != nil

	if patch.Category != "" {
		dst.Category = patch.Category
	}
	if patch.Subcategory != "" {
		dst.Subcategory = patch.Subcategory
	}
	if patch.Name != "" {
		dst.Name = patch.Name
	}
	if patch.Description != "" {
		dst.Description = patch.Description
	}
	if patch.Quantity != nil {
		dst.Quantity = patch.Quantity
	}
	if patch.Unit != nil {
		dst.Unit = patch.Unit
	}
	if patch.UnitCost != nil {
		dst.UnitCost = patch.UnitCost
	}
	if patch.TotalCost != nil {
		dst.TotalCost = patch.TotalCost
	}
	if patch.Location != nil {
		dst.Location = patch.Location
	}
	if patch.PageNumber != nil {
		dst.PageNumber = patch.PageNumber
	}
	if patch.PageReference != nil {
		dst.PageReference = patch.PageReference
	}
	if patch.Notes != nil {
		dst.Notes = patch.Notes
	}

	if !explicitTotal {
		recomputeTotal(dst)
	}
}

// recomputeTotal derives total cost from quantity and unit cost when both
// are known.
func recomputeTotal(item *Item) {
	if item.Quantity != nil && item.UnitCost != nil {
		total := *item.Quantity * *item.UnitCost
		item.TotalCost = &total
	}
}

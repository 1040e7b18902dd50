package modparse

import (
	"testing"

	"github.com/buildra/planchat/internal/takeoff"
)

func existingItems() []takeoff.Item {
	qty1 := 4.0
	qty2 := 120.0
	return []takeoff.Item{
		{ID: "fe-1", Name: "Fire Extinguishers", Category: "safety", Quantity: &qty1},
		{ID: "ph-1", Name: "Pipe Hangers", Category: "plumbing", Quantity: &qty2},
	}
}

func TestParseFencedJSON(t *testing.T) {
	answer := "I'll add those for you.\n\n```json\n" +
		`{"modifications": [{"action": "add", "item": {"name": "Smoke Detectors", "quantity": 6, "unit": "EA"}, "reason": "requested"}]}` +
		"\n```"

	got := Parse(answer, nil)
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.Action != takeoff.ActionAdd {
		t.Errorf("Action = %s, want add", m.Action)
	}
	if m.Item.Name != "Smoke Detectors" || m.Item.Quantity == nil || *m.Item.Quantity != 6 {
		t.Errorf("Item = %+v", m.Item)
	}
	if m.Reason != "requested" {
		t.Errorf("Reason = %q", m.Reason)
	}
	if got.Explanation != "I'll add those for you." {
		t.Errorf("Explanation = %q", got.Explanation)
	}
	if got.NeedsConfirmation {
		t.Error("JSON modifications never need confirmation")
	}
}

func TestParseJSONUpdateClearsGeneratedID(t *testing.T) {
	answer := "```json\n" +
		`{"modifications": [{"action": "update", "itemId": "fe-1", "item": {"quantity": 2}}]}` +
		"\n```"

	got := Parse(answer, existingItems())
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.Action != takeoff.ActionUpdate || m.ItemID != "fe-1" {
		t.Errorf("modification = %+v", m)
	}
	if m.Item.ID != "" {
		t.Errorf("patch ID = %q, want cleared", m.Item.ID)
	}
	if m.Item.Quantity == nil || *m.Item.Quantity != 2 {
		t.Errorf("patch quantity = %v, want 2", m.Item.Quantity)
	}
}

func TestParseBareJSONObject(t *testing.T) {
	answer := `Removing it now. {"modifications": [{"action": "remove", "item_id": "ph-1"}]} Done.`

	got := Parse(answer, existingItems())
	if len(got.Modifications) != 1 || got.Modifications[0].Action != takeoff.ActionRemove {
		t.Fatalf("modifications = %+v", got.Modifications)
	}
	if got.Modifications[0].ItemID != "ph-1" {
		t.Errorf("ItemID = %q", got.Modifications[0].ItemID)
	}
	if got.Explanation != "Removing it now.  Done." {
		t.Errorf("Explanation = %q", got.Explanation)
	}
}

func TestParseJSONDropsUnidentifiedRemove(t *testing.T) {
	answer := "```json\n" +
		`{"modifications": [{"action": "remove"}, {"action": "archive", "item_id": "x"}]}` +
		"\n```"

	got := Parse(answer, existingItems())
	if len(got.Modifications) != 0 {
		t.Errorf("modifications = %+v, want none", got.Modifications)
	}
}

func TestParseTextUpdate(t *testing.T) {
	got := Parse("I've updated the fire extinguishers to a quantity of 2.", existingItems())
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.Action != takeoff.ActionUpdate || m.ItemID != "fe-1" {
		t.Errorf("modification = %+v", m)
	}
	if m.Item.Quantity == nil || *m.Item.Quantity != 2 {
		t.Errorf("quantity = %v, want 2", m.Item.Quantity)
	}
	if got.NeedsConfirmation {
		t.Error("resolved update should not need confirmation")
	}
}

func TestParseTextUpdateWordNumber(t *testing.T) {
	got := Parse("Setting the pipe hangers to five.", existingItems())
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.ItemID != "ph-1" || m.Item.Quantity == nil || *m.Item.Quantity != 5 {
		t.Errorf("modification = %+v", m)
	}
}

func TestParseTextRemove(t *testing.T) {
	got := Parse("I removed the pipe hangers from the list.", existingItems())
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.Action != takeoff.ActionRemove || m.ItemID != "ph-1" {
		t.Errorf("modification = %+v", m)
	}
}

func TestParseTextUnresolvedNeedsConfirmation(t *testing.T) {
	got := Parse("I've updated the unicorn fencing to 9.", existingItems())
	if len(got.Modifications) != 0 {
		t.Errorf("modifications = %+v, want none", got.Modifications)
	}
	if !got.NeedsConfirmation {
		t.Error("unresolved update should flag NeedsConfirmation")
	}
}

func TestParseTextAddCoercedToUpdate(t *testing.T) {
	got := Parse("I added 3 fire extinguishers to the takeoff.", existingItems())
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.Action != takeoff.ActionUpdate {
		t.Errorf("Action = %s, want add coerced to update", m.Action)
	}
	if m.ItemID != "fe-1" {
		t.Errorf("ItemID = %q, want fe-1", m.ItemID)
	}
	if m.Item.Quantity == nil || *m.Item.Quantity != 3 {
		t.Errorf("quantity = %v, want 3", m.Item.Quantity)
	}
}

func TestParseTextAddNewItem(t *testing.T) {
	got := Parse("Add smoke detectors to the list.", existingItems())
	if len(got.Modifications) != 1 {
		t.Fatalf("modifications = %+v, want 1", got.Modifications)
	}
	m := got.Modifications[0]
	if m.Action != takeoff.ActionAdd || m.Item.Name != "smoke detectors" {
		t.Errorf("modification = %+v", m)
	}
	if m.Item.Quantity != nil {
		t.Errorf("quantity = %v, want nil when none stated", m.Item.Quantity)
	}
}

func TestParsePlainAnswerYieldsNothing(t *testing.T) {
	answer := "The takeoff lists 4 fire extinguishers at $45 each."
	got := Parse(answer, existingItems())
	if len(got.Modifications) != 0 {
		t.Errorf("modifications = %+v, want none", got.Modifications)
	}
	if got.Explanation != answer {
		t.Errorf("Explanation = %q", got.Explanation)
	}
	if got.NeedsConfirmation {
		t.Error("plain answer should not need confirmation")
	}
}

// Package snapshot defines the point-in-time projection of an item and the
// structural diff stored on update history records.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RelatedItem is one directed edge out of the item, as captured in a snapshot.
type RelatedItem struct {
	ItemID      int64  `json:"itemId"`
	FullID      string `json:"fullId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Snapshot is the full JSON projection of an item's reviewable state.
type Snapshot struct {
	Title        string        `json:"title"`
	Content      string        `json:"content"`
	Attachments  string        `json:"attachments"`
	RelatedItems []RelatedItem `json:"relatedItems"`
}

// FieldChange holds the before/after pair for one changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Encode serializes a snapshot for storage.
func Encode(s Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(raw), nil
}

// Decode parses a stored snapshot.
func Decode(raw string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// ComputeDiff returns the changed fields between two snapshots, keyed by field
// name. Scalar fields compare by equality. Related items compare as sets
// ordered by target id; the stored values keep the original order. A nil
// result means no field changed — callers must not store an empty diff.
func ComputeDiff(old, new Snapshot) map[string]FieldChange {
	diff := make(map[string]FieldChange)

	if old.Title != new.Title {
		diff["title"] = FieldChange{Old: old.Title, New: new.Title}
	}
	if old.Content != new.Content {
		diff["content"] = FieldChange{Old: old.Content, New: new.Content}
	}
	if old.Attachments != new.Attachments {
		diff["attachments"] = FieldChange{Old: old.Attachments, New: new.Attachments}
	}
	if !relatedEqual(old.RelatedItems, new.RelatedItems) {
		diff["relatedItems"] = FieldChange{Old: old.RelatedItems, New: new.RelatedItems}
	}

	if len(diff) == 0 {
		return nil
	}
	return diff
}

// EncodeDiff serializes a diff for storage. Returns "" for a nil diff.
func EncodeDiff(diff map[string]FieldChange) (string, error) {
	if diff == nil {
		return "", nil
	}
	raw, err := json.Marshal(diff)
	if err != nil {
		return "", fmt.Errorf("marshal diff: %w", err)
	}
	return string(raw), nil
}

func relatedEqual(a, b []RelatedItem) bool {
	return canonicalRelated(a) == canonicalRelated(b)
}

// canonicalRelated serializes a related-item list ordered by target id so the
// comparison ignores presentation order. Ascending id is the only sort key.
func canonicalRelated(items []RelatedItem) string {
	sorted := make([]RelatedItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })
	raw, _ := json.Marshal(sorted)
	return string(raw)
}

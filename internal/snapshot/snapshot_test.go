package snapshot

import (
	"testing"
)

func TestComputeDiffIdentical(t *testing.T) {
	s := Snapshot{
		Title:       "Pressure relief valve",
		Content:     "<p>Spec body</p>",
		Attachments: `["a.pdf"]`,
		RelatedItems: []RelatedItem{
			{ItemID: 2, FullID: "PRJ-2", Title: "Other", Description: "see also"},
		},
	}
	if diff := ComputeDiff(s, s); diff != nil {
		t.Errorf("identical snapshots must yield nil diff, got %v", diff)
	}
}

func TestComputeDiffTitleOnly(t *testing.T) {
	old := Snapshot{Title: "Old title", Content: "<p>A</p>"}
	new := Snapshot{Title: "New title", Content: "<p>A</p>"}

	diff := ComputeDiff(old, new)
	if len(diff) != 1 {
		t.Fatalf("expected exactly one changed field, got %v", diff)
	}
	change, ok := diff["title"]
	if !ok {
		t.Fatal("expected title key in diff")
	}
	if change.Old != "Old title" || change.New != "New title" {
		t.Errorf("unexpected change pair: %+v", change)
	}
}

func TestComputeDiffContent(t *testing.T) {
	old := Snapshot{Content: "<p>A</p>"}
	new := Snapshot{Content: "<p>B</p>"}

	diff := ComputeDiff(old, new)
	change, ok := diff["content"]
	if !ok {
		t.Fatal("expected content key in diff")
	}
	if change.Old != "<p>A</p>" || change.New != "<p>B</p>" {
		t.Errorf("unexpected change pair: %+v", change)
	}
}

func TestComputeDiffRelatedItemsOrderInsensitive(t *testing.T) {
	old := Snapshot{RelatedItems: []RelatedItem{
		{ItemID: 2, FullID: "PRJ-2"},
		{ItemID: 1, FullID: "PRJ-1"},
	}}
	new := Snapshot{RelatedItems: []RelatedItem{
		{ItemID: 1, FullID: "PRJ-1"},
		{ItemID: 2, FullID: "PRJ-2"},
	}}
	if diff := ComputeDiff(old, new); diff != nil {
		t.Errorf("same related set in different order must not diff, got %v", diff)
	}
}

func TestComputeDiffRelatedItemsChanged(t *testing.T) {
	old := Snapshot{RelatedItems: []RelatedItem{{ItemID: 1, FullID: "PRJ-1"}}}
	new := Snapshot{RelatedItems: []RelatedItem{
		{ItemID: 3, FullID: "PRJ-3"},
		{ItemID: 1, FullID: "PRJ-1"},
	}}

	diff := ComputeDiff(old, new)
	change, ok := diff["relatedItems"]
	if !ok {
		t.Fatalf("expected relatedItems key in diff, got %v", diff)
	}
	// The stored lists keep the original (unsorted) order.
	got, ok := change.New.([]RelatedItem)
	if !ok {
		t.Fatalf("unexpected value type %T", change.New)
	}
	if got[0].ItemID != 3 || got[1].ItemID != 1 {
		t.Errorf("diff must preserve original list order, got %v", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := Snapshot{Title: "T", Content: "<p>x</p>", RelatedItems: []RelatedItem{{ItemID: 9, FullID: "P-9"}}}
	raw, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Title != s.Title || len(back.RelatedItems) != 1 || back.RelatedItems[0].ItemID != 9 {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestEncodeDiffNil(t *testing.T) {
	raw, err := EncodeDiff(nil)
	if err != nil {
		t.Fatalf("EncodeDiff: %v", err)
	}
	if raw != "" {
		t.Errorf("nil diff must encode to empty string, got %q", raw)
	}
}

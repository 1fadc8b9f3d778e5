package vectorindex

import (
	"context"
	"testing"
)

func TestUpsertThenSearchFindsClosestMatch(t *testing.T) {
	idx := New(nil)
	ctx := context.Background()

	if err := idx.Upsert(ctx, Document{ID: "a", Text: "outdated dependency version pinned in go.mod"}); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := idx.Upsert(ctx, Document{ID: "b", Text: "unrelated changelog entry about release notes"}); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	matches, err := idx.Search(ctx, "outdated dependency version pinned", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) == 0 || matches[0].ID != "a" {
		t.Fatalf("expected closest match to be %q, got %+v", "a", matches)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	idx := New(nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = idx.Upsert(ctx, Document{ID: id, Text: id + " some content about gaps"})
	}

	matches, err := idx.Search(ctx, "gaps", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func TestDeleteRemovesDocumentFromSearchResults(t *testing.T) {
	idx := New(nil)
	ctx := context.Background()
	_ = idx.Upsert(ctx, Document{ID: "a", Text: "todo fix this later"})

	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0 after delete, got %d", count)
	}
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	idx := New(nil)
	if err := idx.Upsert(context.Background(), Document{Text: "no id"}); err == nil {
		t.Fatal("expected error for empty document id")
	}
}

func TestHashEmbedIsDeterministic(t *testing.T) {
	a := HashEmbed("the same text twice")
	b := HashEmbed("the same text twice")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differed at index %d", i)
		}
	}
}

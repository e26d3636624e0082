package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "answerbook.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func seed(t *testing.T, s *SQLiteStore) {
	t.Helper()
	answers := []domain.Answer{
		{ID: 1, Text: "love one", Tags: []string{"love"}, Tone: "gentle", Weight: 3},
		{ID: 2, Text: "love two", Tags: []string{"love", "relationships"}, Tone: "sharp", Weight: 1},
		{ID: 101, Text: "career one", Tags: []string{"career"}, Tone: "neutral", Weight: 2},
	}
	hints := []domain.AstroHint{
		{ID: 1, ZodiacSign: "Aries", Category: domain.CategoryLove, Text: "aries love", Weight: 2},
		{ID: 2, ZodiacSign: "Aries", Category: domain.CategoryCareer, Text: "aries career", Weight: 1},
		{ID: 3, ZodiacSign: "Leo", Category: domain.CategoryLove, Text: "leo love", Weight: 2},
	}
	res, err := s.SeedCatalog(context.Background(), answers, hints)
	if err != nil {
		t.Fatalf("SeedCatalog: %v", err)
	}
	if res.Answers != 3 || res.Hints != 3 {
		t.Fatalf("unexpected seed result %+v", res)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	updated := []domain.Answer{{ID: 1, Text: "love one revised", Tags: []string{"love"}, Weight: 5}}
	if _, err := s.SeedCatalog(ctx, updated, nil); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	n, err := s.CountAnswers(ctx)
	if err != nil {
		t.Fatalf("CountAnswers: %v", err)
	}
	if n != 3 {
		t.Errorf("CountAnswers = %d, want 3", n)
	}

	love, err := s.ListAnswers(ctx, domain.CategoryLove)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if love[0].Text != "love one revised" || love[0].Weight != 5 {
		t.Errorf("answer 1 not updated: %+v", love[0])
	}
}

func TestListAnswersByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	tests := []struct {
		category domain.Category
		want     []int64
	}{
		{domain.CategoryLove, []int64{1, 2}},
		{domain.CategoryRelationships, []int64{2}},
		{domain.CategoryCareer, []int64{101}},
		{domain.CategoryHealth, nil},
		{domain.CategoryRandom, []int64{1, 2, 101}},
	}
	for _, tt := range tests {
		got, err := s.ListAnswers(ctx, tt.category)
		if err != nil {
			t.Fatalf("ListAnswers(%s): %v", tt.category, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("ListAnswers(%s) returned %d answers, want %d", tt.category, len(got), len(tt.want))
		}
		for i, a := range got {
			if a.ID != tt.want[i] {
				t.Errorf("ListAnswers(%s)[%d].ID = %d, want %d", tt.category, i, a.ID, tt.want[i])
			}
		}
	}

	rel, _ := s.ListAnswers(ctx, domain.CategoryRelationships)
	if len(rel[0].Tags) != 2 || rel[0].Tone != "sharp" {
		t.Errorf("tags/tone not round-tripped: %+v", rel[0])
	}
}

func TestListAstroHints(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	hints, err := s.ListAstroHints(context.Background(), "Aries")
	if err != nil {
		t.Fatalf("ListAstroHints: %v", err)
	}
	if len(hints) != 2 {
		t.Fatalf("got %d hints, want 2", len(hints))
	}
	if hints[1].Category != domain.CategoryCareer {
		t.Errorf("category = %q", hints[1].Category)
	}

	none, err := s.ListAstroHints(context.Background(), "Unknown")
	if err != nil || len(none) != 0 {
		t.Errorf("expected no hints for Unknown, got %v, %v", none, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.GetSession(ctx, "missing")
	if err != nil || sess != nil {
		t.Fatalf("GetSession(missing) = %v, %v; want nil, nil", sess, err)
	}

	first := time.Unix(1_700_000_000, 0)
	if err := s.TouchSession(ctx, "abc", first); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	later := first.Add(time.Hour)
	if err := s.TouchSession(ctx, "abc", later); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}

	sess, err = s.GetSession(ctx, "abc")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.CreatedAt.Equal(first) || !sess.LastSeenAt.Equal(later) {
		t.Errorf("unexpected session timestamps: %+v", sess)
	}
}

func TestRecentServedWindowAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	entries := []domain.ServedAnswer{
		{SessionID: "a", AnswerID: 1, ZodiacSign: "Leo", ServedAt: now.Add(-25 * time.Hour)},
		{SessionID: "a", AnswerID: 2, ZodiacSign: "Leo", ServedAt: now.Add(-3 * time.Hour)},
		{SessionID: "a", AnswerID: 3, ZodiacSign: "Leo", ServedAt: now.Add(-2 * time.Hour)},
		{SessionID: "a", AnswerID: 4, ZodiacSign: "Leo", ServedAt: now.Add(-time.Hour)},
		{SessionID: "b", AnswerID: 9, ZodiacSign: "Aries", ServedAt: now},
	}
	for _, e := range entries {
		if err := s.RecordServed(ctx, e); err != nil {
			t.Fatalf("RecordServed: %v", err)
		}
	}

	since := now.Add(-24 * time.Hour)
	ids, err := s.RecentServed(ctx, "a", since, 0)
	if err != nil {
		t.Fatalf("RecentServed: %v", err)
	}
	want := []int64{4, 3, 2}
	if len(ids) != len(want) {
		t.Fatalf("RecentServed = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("RecentServed[%d] = %d, want %d", i, ids[i], want[i])
		}
	}

	ids, err = s.RecentServed(ctx, "a", since, 2)
	if err != nil {
		t.Fatalf("RecentServed limited: %v", err)
	}
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 3 {
		t.Errorf("limited RecentServed = %v", ids)
	}

	deleted, err := s.DeleteServedBefore(ctx, since)
	if err != nil {
		t.Fatalf("DeleteServedBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestDeleteSessionsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.TouchSession(ctx, "stale", now.Add(-40*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchSession(ctx, "fresh", now); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordServed(ctx, domain.ServedAnswer{SessionID: "stale", AnswerID: 1, ServedAt: now}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteSessionsBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSessionsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
	if sess, _ := s.GetSession(ctx, "stale"); sess != nil {
		t.Error("stale session should be gone")
	}
	if ids, _ := s.RecentServed(ctx, "stale", now.Add(-time.Hour), 0); len(ids) != 0 {
		t.Errorf("stale served log should be gone, got %v", ids)
	}
}

func TestSQLiteStoreImplementsRepository(t *testing.T) {
	var _ Repository = newTestStore(t)
}

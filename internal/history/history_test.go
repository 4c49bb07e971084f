package history_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HeroTools/open-whispr-sub004/internal/history"
)

func TestMemory_AppendRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := history.NewMemory(2)
	for _, text := range []string{"one", "two", "three"} {
		if err := m.Append(ctx, history.Entry{Text: text, Source: "local"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := m.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "three" || got[1].Text != "two" {
		t.Fatalf("Recent = %+v, want three, two", got)
	}
	if got[0].ID == uuid.Nil || got[0].CreatedAt.IsZero() {
		t.Error("Append did not fill ID and CreatedAt")
	}

	one, _ := m.Recent(ctx, 1)
	if len(one) != 1 || one[0].Text != "three" {
		t.Errorf("Recent(1) = %+v", one)
	}
}

func TestMemory_KeepsGivenIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	id := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := history.NewMemory(0)
	_ = m.Append(ctx, history.Entry{ID: id, CreatedAt: at, Text: "x"})
	got, _ := m.Recent(ctx, 0)
	if got[0].ID != id || !got[0].CreatedAt.Equal(at) {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestMemory_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := history.NewMemory(0)
	_ = m.Append(ctx, history.Entry{Text: "x"})
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := m.Recent(ctx, 0)
	if len(got) != 0 {
		t.Errorf("Recent after Clear = %+v", got)
	}
}

func TestPostgres_RoundTrip(t *testing.T) {
	dsn := os.Getenv("OPENWHISPR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OPENWHISPR_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration test")
	}
	ctx := context.Background()

	store, err := history.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	entries := []history.Entry{
		{Text: "first", RawText: "first", Source: "local", DetectedLanguage: "en", CreatedAt: base},
		{Text: "Привіт.", RawText: "привіт", Source: "cloud", Corrected: true, DetectedLanguage: "ru", UsedLanguage: "uk", CreatedAt: base.Add(time.Second)},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(got))
	}
	if got[0].Text != "Привіт." || !got[0].Corrected || got[0].UsedLanguage != "uk" || got[0].DetectedLanguage != "ru" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].Source != "local" {
		t.Errorf("oldest = %+v", got[1])
	}
}

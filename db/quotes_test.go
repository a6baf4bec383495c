package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "quotes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.db")
	for i := 0; i < 2; i++ {
		d, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		d.Close()
	}
}

func TestAddAndGet(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	q, err := d.AddQuote(ctx, "general", "alice", "bob", "it works on my machine")
	if err != nil {
		t.Fatalf("AddQuote: %v", err)
	}
	if q.ID != 1 {
		t.Errorf("first id = %d, want 1", q.ID)
	}

	got, err := d.GetQuote(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if got.Channel != "general" || got.Username != "alice" || got.AddedBy != "bob" || got.Text != "it works on my machine" {
		t.Errorf("GetQuote = %+v", got)
	}
	if !got.AddedAt.Equal(q.AddedAt) {
		t.Errorf("added_at = %v, want %v", got.AddedAt, q.AddedAt)
	}
}

func TestGetQuote_NotFound(t *testing.T) {
	d := openTest(t)
	_, err := d.GetQuote(context.Background(), 42)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrQuoteNotFound) {
		t.Errorf("err = %v, want ErrQuoteNotFound", err)
	}
}

func TestFindQuotes(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	seed := []struct{ channel, user, text string }{
		{"general", "alice", "one"},
		{"general", "alicia", "two"},
		{"general", "bob", "three"},
		{"random", "alice", "four"},
		{"general", "alice", "five"},
	}
	for _, s := range seed {
		if _, err := d.AddQuote(ctx, s.channel, s.user, "carol", s.text); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name     string
		username string
		fuzz     bool
		limit    int
		want     []string
	}{
		{"channel only, newest first", "", false, 0, []string{"five", "three", "two", "one"}},
		{"limit", "", false, 2, []string{"five", "three"}},
		{"exact user", "alice", false, 0, []string{"five", "one"}},
		{"fuzzy prefix", "alicexyz", true, 0, []string{"five", "one"}},
		{"short fuzzy prefix", "ali", true, 0, []string{"five", "two", "one"}},
		{"no match", "zed", true, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := d.FindQuotes(ctx, "general", tt.username, tt.fuzz, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, q := range qs {
				got = append(got, q.Text)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestQuoteString(t *testing.T) {
	q := Quote{ID: 7, Username: "alice", Text: "hi", AddedAt: time.Date(2017, 3, 4, 5, 6, 7, 0, time.UTC)}
	if got, want := q.String(), "#7 [2017-03-04 05:06:07] <alice> hi"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

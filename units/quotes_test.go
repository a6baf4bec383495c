package units

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/plugin"
	"github.com/nicebartender/edi/testutil"
)

type fakePoster struct {
	*testutil.Unit
	posted []string
	err    error
}

func (f *fakePoster) Update(_ context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.posted = append(f.posted, text)
	return "https://social.example/@edi/1", nil
}

type quotesHarness struct {
	t      *testing.T
	out    *testutil.Outbox
	quotes *Quotes
	peers  map[string]plugin.Plugin
}

var (
	general = event.Channel{ID: "C1", Name: "general"}
	random  = event.Channel{ID: "C2", Name: "random"}
	alice   = event.User{ID: "U1", Name: "alice"}
	bob     = event.User{ID: "U2", Name: "bob"}
)

func newQuotes(t *testing.T, cfg QuotesConfig) *quotesHarness {
	t.Helper()
	h := &quotesHarness{
		t:     t,
		out:   testutil.NewOutbox().AddChannel("C1", "general").AddChannel("C2", "random").AddUser("U1", "alice").AddUser("U2", "bob"),
		peers: make(map[string]plugin.Plugin),
	}
	// each harness gets its own database unless the test picked a path
	if cfg.DBPath == "" || cfg.DBPath == defaultQuotesConfig().DBPath {
		cfg.DBPath = filepath.Join(t.TempDir(), "quotes.db")
	}
	h.quotes = NewQuotes(plugin.Deps{
		Out:    h.out,
		Logger: discard(),
		Peer: func(name string) (plugin.Plugin, bool) {
			p, ok := h.peers[name]
			return p, ok
		},
	}, cfg)
	require.NoError(t, h.quotes.Start(context.Background()))
	t.Cleanup(func() { _ = h.quotes.Stop(context.Background()) })
	return h
}

func (h *quotesHarness) say(ch event.Channel, user event.User, text string) {
	h.t.Helper()
	require.NoError(h.t, h.quotes.Dispatch(context.Background(), testutil.Message(ch.ID, user.ID, text)))
}

func (h *quotesHarness) run(name, args string, ch event.Channel, user event.User) string {
	h.t.Helper()
	out, ok := invoke(h.t, QuotesFactory(), h.quotes, name, args, ch, user)
	require.True(h.t, ok, "%s %q did not match", name, args)
	return out
}

func TestGrabSavesLastMessage(t *testing.T) {
	h := newQuotes(t, defaultQuotesConfig())

	assert.Equal(t, "no history for bob", h.run("grab", "bob", general, alice))

	h.say(general, bob, "first")
	h.say(general, bob, "second")
	h.say(random, bob, "elsewhere")

	assert.Equal(t, "quote #1 saved", h.run("grab", "<@U2>", general, alice))
	out := h.run("quote", "1", general, alice)
	assert.Regexp(t, `^#1 \[\d{4}-\d\d-\d\d \d\d:\d\d:\d\d\] <bob> second$`, out)

	assert.Equal(t, "quote #2 saved", h.run("grab", "@bob", random, alice))
	assert.Contains(t, h.run("quote", "2", random, alice), "<bob> elsewhere")
}

func TestHarnessDatabasesAreIsolated(t *testing.T) {
	for range 2 {
		h := newQuotes(t, defaultQuotesConfig())
		h.say(general, bob, "again")
		assert.Equal(t, "quote #1 saved", h.run("grab", "bob", general, alice))
	}
	_, err := os.Stat(defaultQuotesConfig().DBPath)
	assert.ErrorIs(t, err, fs.ErrNotExist, "no database left in the package directory")
}

func TestRememberIgnoresSubtypesAndUnknowns(t *testing.T) {
	h := newQuotes(t, defaultQuotesConfig())

	h.say(general, bob, "real")
	edited := event.New(event.KindMessage, map[string]any{
		"channel": "C1", "user": "U2", "text": "edited", "subtype": "message_changed",
	})
	require.NoError(t, h.quotes.Dispatch(context.Background(), edited))
	botPost := event.New(event.KindMessage, map[string]any{"channel": "C1", "text": "no user"})
	require.NoError(t, h.quotes.Dispatch(context.Background(), botPost))

	h.run("grab", "bob", general, alice)
	assert.Contains(t, h.run("quote", "", general, alice), "<bob> real")
}

func TestQuoteQueries(t *testing.T) {
	h := newQuotes(t, defaultQuotesConfig())
	for _, text := range []string{"one", "two", "three", "four"} {
		h.say(general, bob, text)
		h.run("grab", "bob", general, alice)
	}
	h.say(general, alice, "mine")
	h.run("grab", "alice", general, bob)

	lines := func(s string) []string { return strings.Split(s, "\n") }

	t.Run("default count", func(t *testing.T) {
		got := lines(h.run("quote", "", general, alice))
		require.Len(t, got, 3)
		assert.Contains(t, got[0], "mine")
		assert.Contains(t, got[1], "four")
	})
	t.Run("count and user", func(t *testing.T) {
		got := lines(h.run("quote", "2 bob", general, alice))
		require.Len(t, got, 2)
		assert.Contains(t, got[0], "four")
		assert.Contains(t, got[1], "three")
	})
	t.Run("count is clamped", func(t *testing.T) {
		assert.Len(t, lines(h.run("quote", "0 bob", general, alice)), 1)
		assert.Len(t, lines(h.run("quote", "99 bob", general, alice)), 4)
	})
	t.Run("fuzzy user", func(t *testing.T) {
		got := lines(h.run("quote", "<@U1>", general, bob))
		require.Len(t, got, 1)
		assert.Contains(t, got[0], "<alice> mine")
	})
	t.Run("by id", func(t *testing.T) {
		assert.Contains(t, h.run("quote", "#2", general, alice), "<bob> two")
	})
	t.Run("other channel", func(t *testing.T) {
		assert.Equal(t, "no quotes found", h.run("quote", "2", random, alice))
		assert.Equal(t, "no quotes found", h.run("quote", "", random, alice))
	})
	t.Run("missing id", func(t *testing.T) {
		assert.Equal(t, "no quotes found", h.run("quote", "404", general, alice))
	})
}

func TestGrabPostsToTimeline(t *testing.T) {
	cfg := defaultQuotesConfig()
	cfg.TweetGrabs = true
	cfg.TweetFormat = "#{id} {channel}: <{user}> {text}"
	h := newQuotes(t, cfg)

	h.say(general, bob, "hello world")
	assert.Equal(t, "quote #1 saved", h.run("grab", "bob", general, alice), "no timeline unit")

	poster := &fakePoster{Unit: testutil.NewUnit("timeline")}
	h.peers["timeline"] = poster
	assert.Equal(t, "quote #2 saved and tweeted", h.run("grab", "bob", general, alice))
	assert.Equal(t, []string{"#2 general: <bob> hello world"}, poster.posted)

	poster.err = errors.New("boom")
	assert.Equal(t, "quote #3 saved", h.run("grab", "bob", general, alice))
}

func TestQuotesStartFailsOnBadPath(t *testing.T) {
	cfg := defaultQuotesConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "dir", "quotes.db")
	q := NewQuotes(plugin.Deps{Out: testutil.NewOutbox(), Logger: discard()}, cfg)
	assert.Error(t, q.Start(context.Background()))
	assert.NoError(t, q.Stop(context.Background()))
}

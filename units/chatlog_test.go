package units

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/testutil"
)

func TestChatLogHello(t *testing.T) {
	var buf bytes.Buffer
	c := NewChatLog(testutil.NewOutbox(), slog.New(slog.NewTextHandler(&buf, nil)), ChatLogConfig{})

	require.NoError(t, c.Dispatch(context.Background(), event.New(event.KindHello, nil)))
	assert.Contains(t, buf.String(), `msg="Hello, Slack!"`)

	// Without a directory, messages are not written anywhere.
	require.NoError(t, c.Dispatch(context.Background(), testutil.Message("C1", "U1", "hi")))
	require.NoError(t, c.Stop(context.Background()))
}

func TestChatLogTranscript(t *testing.T) {
	dir := t.TempDir()
	out := testutil.NewOutbox().AddChannel("C1", "general").AddUser("U1", "alice").AddUser("U2", "bob")
	c := NewChatLog(out, discard(), ChatLogConfig{Dir: dir})

	clock := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, testutil.Message("C1", "U1", "hey <@U2>")))
	require.NoError(t, c.Dispatch(ctx, event.New(event.KindMessage, map[string]any{
		"channel": "C1", "user": "U1", "text": "edited", "subtype": "message_changed",
	})))
	clock = clock.Add(time.Minute)
	require.NoError(t, c.Dispatch(ctx, testutil.Message("C1", "U2", "morning")))

	clock = clock.Add(24 * time.Hour)
	require.NoError(t, c.Dispatch(ctx, testutil.Message("C9", "U2", "unknown channel")))
	require.NoError(t, c.Dispatch(ctx, testutil.Message("C1", "U2", "next day")))
	require.NoError(t, c.Stop(ctx))

	day1, err := os.ReadFile(filepath.Join(dir, "general", "2026-03-14.log"))
	require.NoError(t, err)
	assert.Equal(t, "[09:26:53] <alice> hey @bob\n[09:27:53] <bob> morning\n", string(day1))

	day2, err := os.ReadFile(filepath.Join(dir, "general", "2026-03-15.log"))
	require.NoError(t, err)
	assert.Equal(t, "[09:27:53] <bob> next day\n", string(day2))

	_, err = os.Stat(filepath.Join(dir, "C9", "2026-03-15.log"))
	assert.NoError(t, err, "unknown channels are logged under their id")
	assert.Empty(t, c.files)
}

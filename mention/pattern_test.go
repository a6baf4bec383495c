package mention

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMatch_Forms(t *testing.T) {
	re := Pattern("edi", "U0BOT")

	tests := []struct {
		text    string
		ok      bool
		command string
		args    string
	}{
		{"@edi help", true, "help", ""},
		{"edi: quote 3 alice", true, "quote", "3 alice"},
		{"EDI, Grab bob", true, "grab", "bob"},
		{"<@U0BOT> help quote", true, "help", "quote"},
		{"<@U0BOT|edi>: help", true, "help", ""},
		{"  @edi   tweet  hello world  ", true, "tweet", "hello world"},
		{"@edi post line one\nline two", true, "post", "line one\nline two"},
		{"@edi", false, "", ""},
		{"@edibot help", false, "", ""},
		{"hey @edi help", false, "", ""},
		{"<@U0OTHER> help", false, "", ""},
	}

	for _, tt := range tests {
		command, args, ok := Match(re, tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.command, command, tt.text)
		assert.Equal(t, tt.args, args, tt.text)
	}
}

func TestPattern_NoIdentity(t *testing.T) {
	require.Nil(t, Pattern("", ""))
	_, _, ok := Match(nil, "@edi help")
	assert.False(t, ok)
}

func TestPattern_QuotesBotName(t *testing.T) {
	re := Pattern("e.d", "")
	_, _, ok := Match(re, "exd help")
	assert.False(t, ok)
	cmd, _, ok := Match(re, "e.d help")
	assert.True(t, ok)
	assert.Equal(t, "help", cmd)
}

// Any command word and argument text addressed to the bot comes back
// lower-cased and trimmed.
func TestMatch_Property(t *testing.T) {
	re := Pattern("edi", "U0BOT")
	rapid.Check(t, func(rt *rapid.T) {
		command := rapid.StringMatching(`[A-Za-z][A-Za-z0-9_-]{0,10}`).Draw(rt, "command")
		args := rapid.StringMatching(`[a-z0-9 #<>@]{0,20}`).Draw(rt, "args")
		prefix := rapid.SampledFrom([]string{"@edi ", "edi: ", "<@U0BOT> ", "edi, "}).Draw(rt, "prefix")

		gotCmd, gotArgs, ok := Match(re, prefix+command+" "+args)
		if !ok {
			rt.Fatalf("expected match")
		}
		if gotCmd != strings.ToLower(command) {
			rt.Fatalf("command = %q, want %q", gotCmd, strings.ToLower(command))
		}
		if gotArgs != strings.TrimSpace(args) {
			rt.Fatalf("args = %q, want %q", gotArgs, strings.TrimSpace(args))
		}
	})
}

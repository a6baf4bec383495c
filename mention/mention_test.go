package mention

import (
	"testing"

	"github.com/nicebartender/edi/event"
)

type dir struct{}

func (dir) User(id string) (event.User, bool) {
	if id == "U1" {
		return event.User{ID: "U1", Name: "alice"}, true
	}
	return event.User{}, false
}

func (dir) Channel(id string) (event.Channel, bool) {
	if id == "C1" {
		return event.Channel{ID: "C1", Name: "general"}, true
	}
	return event.Channel{}, false
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		ref  string
		kind Kind
		id   string
	}{
		{UserRef("U1"), KindUser, "U1"},
		{ChannelRef("C1", ""), KindChannel, "C1"},
		{ChannelRef("C1", "general"), KindChannel, "C1"},
	}

	for _, tt := range tests {
		tok, err := Decode(tt.ref)
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", tt.ref, err)
		}
		if tok.Kind != tt.kind {
			t.Errorf("Decode(%q).Kind = %v, want %v", tt.ref, tok.Kind, tt.kind)
		}
		if tok.ID != tt.id {
			t.Errorf("Decode(%q).ID = %q, want %q", tt.ref, tok.ID, tt.id)
		}
	}
}

func TestDecodeLinkAndSpecial(t *testing.T) {
	tok, err := Decode("<https://example.com|example>")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if tok.Kind != KindLink || tok.ID != "https://example.com" || tok.Label != "example" {
		t.Errorf("link token = %+v", tok)
	}

	tok, err = Decode("<!here>")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if tok.Kind != KindSpecial || tok.ID != "here" {
		t.Errorf("special token = %+v", tok)
	}
}

func TestDecodeInvalid(t *testing.T) {
	cases := []string{
		"",
		"<>",
		"<@>",
		"<#>",
		"<plain words>",
	}
	for _, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Errorf("Decode(%q) should have returned error", c)
		}
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hi <@U1>", "hi @alice"},
		{"see <#C1>", "see #general"},
		{"see <#C7|random>", "see #random"},
		{"who is <@U9>", "who is @U9"},
		{"<!here> lunch", "@here lunch"},
		{"read <https://go.dev|the docs>", "read the docs"},
		{"bare <https://go.dev>", "bare https://go.dev"},
		{"no tokens", "no tokens"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, dir{}); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<@U1>", "alice"},
		{"<@U9|bob>", "bob"},
		{"@carol", "carol"},
		{" dave ", "dave"},
	}
	for _, tt := range tests {
		if got := Username(tt.in, dir{}); got != tt.want {
			t.Errorf("Username(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

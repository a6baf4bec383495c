// Package mention handles Slack's inline reference tokens (<@U123>,
// <#C123|general>, <https://x|label>) and the "@bot command args" grammar.
package mention

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nicebartender/edi/event"
)

// Kind is the type of reference a token points at.
type Kind int

const (
	KindUser Kind = iota
	KindChannel
	KindSpecial // <!here>, <!channel>, <!everyone>
	KindLink
)

// Token is one decoded <...> reference.
type Token struct {
	Kind  Kind
	ID    string // user/channel id, special name, or URL
	Label string // text after '|', may be empty
}

// Resolver looks up directory names for ids.
type Resolver interface {
	User(id string) (event.User, bool)
	Channel(id string) (event.Channel, bool)
}

var tokenRe = regexp.MustCompile(`<([^<>]+)>`)

// UserRef builds the token that mentions a user.
func UserRef(userID string) string {
	return "<@" + userID + ">"
}

// ChannelRef builds the token that links a channel.
func ChannelRef(channelID, name string) string {
	if name == "" {
		return "<#" + channelID + ">"
	}
	return "<#" + channelID + "|" + name + ">"
}

// Decode parses a single token, with or without its angle brackets.
func Decode(token string) (Token, error) {
	clean := strings.TrimSpace(token)
	clean = strings.TrimPrefix(clean, "<")
	clean = strings.TrimSuffix(clean, ">")

	if clean == "" {
		return Token{}, errors.New("empty token")
	}

	ref, label, _ := strings.Cut(clean, "|")

	switch ref[0] {
	case '@':
		if len(ref) < 2 {
			return Token{}, errors.New("missing user id")
		}
		return Token{Kind: KindUser, ID: ref[1:], Label: label}, nil
	case '#':
		if len(ref) < 2 {
			return Token{}, errors.New("missing channel id")
		}
		return Token{Kind: KindChannel, ID: ref[1:], Label: label}, nil
	case '!':
		if len(ref) < 2 {
			return Token{}, errors.New("missing special name")
		}
		return Token{Kind: KindSpecial, ID: ref[1:], Label: label}, nil
	}

	if !strings.Contains(ref, ":") {
		return Token{}, errors.New("unrecognized token")
	}
	return Token{Kind: KindLink, ID: ref, Label: label}, nil
}

// Expand rewrites every token in text to its human-readable form: users as
// @name, channels as #name, specials as @here, links as their label or URL.
// Unresolvable ids fall back to the label, then the raw id.
func Expand(text string, r Resolver) string {
	return tokenRe.ReplaceAllStringFunc(text, func(raw string) string {
		tok, err := Decode(raw)
		if err != nil {
			return raw
		}
		return render(tok, "@", r)
	})
}

// Username turns a command argument that names a user into a plain
// username: "<@U1>" -> "alice", "@alice" -> "alice", "alice" -> "alice".
func Username(arg string, r Resolver) string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<") && strings.HasSuffix(arg, ">") {
		if tok, err := Decode(arg); err == nil && tok.Kind == KindUser {
			return render(tok, "", r)
		}
	}
	return strings.TrimPrefix(arg, "@")
}

func render(tok Token, userPrefix string, r Resolver) string {
	switch tok.Kind {
	case KindUser:
		if r != nil {
			if u, ok := r.User(tok.ID); ok && u.Name != "" {
				return userPrefix + u.Name
			}
		}
		if tok.Label != "" {
			return userPrefix + tok.Label
		}
		return userPrefix + tok.ID
	case KindChannel:
		if r != nil {
			if c, ok := r.Channel(tok.ID); ok && c.Name != "" {
				return "#" + c.Name
			}
		}
		if tok.Label != "" {
			return "#" + tok.Label
		}
		return "#" + tok.ID
	case KindSpecial:
		if tok.Label != "" {
			return tok.Label
		}
		return "@" + tok.ID
	default:
		if tok.Label != "" {
			return tok.Label
		}
		return tok.ID
	}
}

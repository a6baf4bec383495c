// Package event defines the normalized unit that flows from the upstream
// connection through the dispatcher to the units.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Event kinds the core and the bundled units care about. Any other kind is
// passed through untouched.
const (
	KindHello          = "hello"
	KindGoodbye        = "goodbye"
	KindMessage        = "message"
	KindReactionAdded  = "reaction_added"
	KindChannelCreated = "channel_created"
	KindChannelRename  = "channel_rename"
	KindUserChange     = "user_change"
	KindTeamJoin       = "team_join"
	KindError          = "error"
)

// Channel is a directory record for a conversation.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a directory record for an account.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Envelope is one inbound occurrence. It carries identity references by id
// only; names are resolved through the session directory.
type Envelope struct {
	id        string
	kind      string
	channelID string
	userID    string
	fields    map[string]any
}

// New builds an envelope from already-decoded fields. The map is copied
// deeply, so later changes by the caller do not reach the envelope.
func New(kind string, fields map[string]any) *Envelope {
	f, _ := clone(fields).(map[string]any)
	if f == nil {
		f = make(map[string]any, 1)
	}
	f["type"] = kind

	e := &Envelope{
		id:     uuid.NewString(),
		kind:   kind,
		fields: f,
	}
	e.channelID = channelRef(f)
	e.userID, _ = f["user"].(string)
	return e
}

// channelRef finds the channel an event refers to. Reactions and pins name
// it inside their item instead of at the top level.
func channelRef(f map[string]any) string {
	if id, ok := f["channel"].(string); ok {
		return id
	}
	if item, ok := f["item"].(map[string]any); ok {
		id, _ := item["channel"].(string)
		return id
	}
	return ""
}

// Parse decodes one raw protocol frame.
func Parse(raw []byte) (*Envelope, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	kind, _ := fields["type"].(string)
	if kind == "" {
		return nil, errors.New("decode event: missing type")
	}
	return New(kind, fields), nil
}

// ID is a correlation id assigned at construction, used in logs and traces.
func (e *Envelope) ID() string { return e.id }

func (e *Envelope) Kind() string { return e.kind }

// ChannelID is empty when the event does not reference a channel by id.
func (e *Envelope) ChannelID() string { return e.channelID }

func (e *Envelope) UserID() string { return e.userID }

// Has reports whether the field is present, even if its value is null.
func (e *Envelope) Has(name string) bool {
	_, ok := e.fields[name]
	return ok
}

// Field returns a deep copy of a field value.
func (e *Envelope) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// String returns the field as a string, or "" when absent or not a string.
func (e *Envelope) String(name string) string {
	s, _ := e.fields[name].(string)
	return s
}

// Fields returns a deep copy of all fields.
func (e *Envelope) Fields() map[string]any {
	return clone(e.fields).(map[string]any)
}

func (e *Envelope) Text() string { return e.String("text") }

func (e *Envelope) Subtype() string { return e.String("subtype") }

// IsBot reports whether the event was produced by an automated account.
func (e *Envelope) IsBot() bool {
	return e.Has("bot_id") || e.Has("bot_user")
}

// LogAttrs returns the slog key/value pairs identifying the event.
func (e *Envelope) LogAttrs() []any {
	return []any{"event_id", e.id, "kind", e.kind, "channel", e.channelID, "user", e.userID}
}

func clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = clone(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = clone(item)
		}
		return s
	default:
		return val
	}
}

package notification

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Conventional extras keys observed on chat notifications.
const (
	KeyTitle             = "title"
	KeyText              = "text"
	KeyBigText           = "bigText"
	KeySubText           = "subText"
	KeyConversationTitle = "conversationTitle"
	KeyIsGroupSummary    = "isGroupSummary"
	KeyPeople            = "people"
	KeyMessages          = "messages"
)

// RawNotification is one observed notification event as handed over by the
// host. The extras bag is host-shaped and must be treated as untrusted.
type RawNotification struct {
	PackageName    string `json:"packageName"`
	NotificationID string `json:"notificationId"`
	PostedAt       int64  `json:"postedAt"`
	Extras         Extras `json:"extras"`
}

// Extras is the opaque key/value bag attached to a notification.
type Extras map[string]any

// SubMessage is one entry of a conversation-style payload: the host collapses
// rapid messages into a single notification carrying the whole ordered list.
type SubMessage struct {
	Text   string
	Sender string
	Time   int64
}

// String returns the value under key as a string, or "" when absent or of a
// different type.
func (e Extras) String(key string) string {
	if e == nil {
		return ""
	}
	if s, ok := e[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the value under key as a bool, false when absent.
func (e Extras) Bool(key string) bool {
	if e == nil {
		return false
	}
	if b, ok := e[key].(bool); ok {
		return b
	}
	return false
}

// People returns the attached person references, if any.
func (e Extras) People() []string {
	if e == nil {
		return nil
	}
	raw, ok := e[KeyPeople].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SubMessages decodes the embedded ordered sub-message list of a
// conversation-style payload. A nil result means the payload is not
// conversation style. Order is preserved; entries the host produced first
// come first.
func (e Extras) SubMessages() []SubMessage {
	if e == nil {
		return nil
	}
	raw, ok := e[KeyMessages].([]any)
	if !ok {
		return nil
	}
	out := make([]SubMessage, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		sm := SubMessage{}
		if s, ok := m["text"].(string); ok {
			sm.Text = s
		}
		if s, ok := m["sender"].(string); ok {
			sm.Sender = s
		}
		switch t := m["time"].(type) {
		case int64:
			sm.Time = t
		case float64:
			sm.Time = int64(t)
		case json.Number:
			if n, err := t.Int64(); err == nil {
				sm.Time = n
			}
		}
		out = append(out, sm)
	}
	return out
}

// DebugDump renders every raw field into a JSON string for observability.
// It is attached to parsed messages and reused verbatim as the payload of a
// parse-failure report, so it must never fail outward; a marshalling problem
// degrades to a key listing.
func (r RawNotification) DebugDump() string {
	dump := map[string]any{
		"packageName":    r.PackageName,
		"notificationId": r.NotificationID,
		"postedAt":       r.PostedAt,
		"extras":         map[string]any(r.Extras),
	}
	b, err := json.Marshal(dump)
	if err != nil {
		keys := make([]string, 0, len(r.Extras))
		for k := range r.Extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf(`{"packageName":%q,"unmarshalable":true,"keys":%q}`, r.PackageName, keys)
	}
	return string(b)
}

// ParsedMessage is one structured chat message extracted from a
// RawNotification. RoomName and Body are non-empty for any value the parser
// emits. IsGroup is nil when the payload did not say either way.
type ParsedMessage struct {
	RoomName   string
	Sender     string
	Body       string
	Timestamp  int64
	IsGroup    *bool
	RawPayload string
}

// Listener is the narrow entry point the host adapter calls once per
// observed notification. The pipeline service implements it; tests drive it
// with synthetic payloads.
type Listener interface {
	OnRawNotification(raw RawNotification)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

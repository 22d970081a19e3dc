package notification

import (
	"github.com/rs/zerolog/log"
)

// UnknownSender is used when a sub-message carries no sender and the payload
// attaches no person reference either.
const UnknownSender = "Unknown"

// roomRule is one row of the room/group precedence table. Rules are
// evaluated top to bottom; the first matching rule decides room identity and
// the group flag. Keeping this as data means a precedence change is an edit
// to the table, not a control-flow rewrite.
type roomRule struct {
	matches func(sender, primary, secondary string) bool
	room    func(sender, primary, secondary string) string
	isGroup bool
}

var roomRules = []roomRule{
	// An explicit conversation title that differs from the sender names a
	// group room.
	{
		matches: func(sender, primary, _ string) bool { return primary != "" && primary != sender },
		room:    func(_, primary, _ string) string { return primary },
		isGroup: true,
	},
	// A non-empty secondary subtitle also indicates a group room.
	{
		matches: func(_, _, secondary string) bool { return secondary != "" },
		room:    func(_, _, secondary string) string { return secondary },
		isGroup: true,
	},
	// Otherwise the conversation is 1:1 and the sender names the room.
	{
		matches: func(_, _, _ string) bool { return true },
		room:    func(sender, _, _ string) string { return sender },
		isGroup: false,
	},
}

func resolveRoom(sender, primary, secondary string) (string, bool) {
	for _, rule := range roomRules {
		if rule.matches(sender, primary, secondary) {
			return rule.room(sender, primary, secondary), rule.isGroup
		}
	}
	return sender, false
}

// Parser turns raw notification payloads into structured messages. It never
// fails outward: unparseable payloads yield an empty slice and the caller
// falls back to the raw debug dump for reporting.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts zero or more messages from raw.
//
// Conversation-style payloads are the common case under bursts: the host
// collapses several rapid messages into one notification update, so every
// entry of the embedded list is processed, not just the most recent one.
func (p *Parser) Parse(raw RawNotification) []ParsedMessage {
	// Synthetic "N more messages" summaries carry no real content.
	if raw.Extras.Bool(KeyIsGroupSummary) {
		log.Debug().Str("package", raw.PackageName).Msg("Skipping group summary notification")
		return nil
	}

	dump := raw.DebugDump()

	if subs := raw.Extras.SubMessages(); len(subs) > 0 {
		return p.parseConversation(raw, subs, dump)
	}
	return p.parseSingle(raw, dump)
}

func (p *Parser) parseConversation(raw RawNotification, subs []SubMessage, dump string) []ParsedMessage {
	people := raw.Extras.People()
	conversationTitle := raw.Extras.String(KeyConversationTitle)
	subText := raw.Extras.String(KeySubText)

	out := make([]ParsedMessage, 0, len(subs))
	for _, sm := range subs {
		if sm.Text == "" {
			// An empty entry is skipped on its own; the rest of the
			// batch still goes through.
			continue
		}

		sender := sm.Sender
		if sender == "" && len(people) > 0 {
			sender = people[0]
		}
		if sender == "" {
			sender = UnknownSender
		}

		room, isGroup := resolveRoom(sender, conversationTitle, subText)
		if room == "" {
			continue
		}

		ts := sm.Time
		if ts == 0 {
			ts = nowMillis()
		}

		out = append(out, ParsedMessage{
			RoomName:   room,
			Sender:     sender,
			Body:       sm.Text,
			Timestamp:  ts,
			IsGroup:    &isGroup,
			RawPayload: dump,
		})
	}

	log.Debug().
		Str("package", raw.PackageName).
		Int("entries", len(subs)).
		Int("parsed", len(out)).
		Msg("Parsed conversation-style payload")
	return out
}

func (p *Parser) parseSingle(raw RawNotification, dump string) []ParsedMessage {
	title := raw.Extras.String(KeyTitle)
	body := raw.Extras.String(KeyText)
	if body == "" {
		body = raw.Extras.String(KeyBigText)
	}
	subText := raw.Extras.String(KeySubText)

	// For flat payloads the title plays the sender role and subText plays
	// the conversation title in the precedence table.
	room, isGroup := resolveRoom(title, subText, "")

	if room == "" || body == "" {
		log.Debug().
			Str("package", raw.PackageName).
			Bool("hasRoom", room != "").
			Bool("hasBody", body != "").
			Msg("Dropping unparseable flat payload")
		return nil
	}

	ts := raw.PostedAt
	if ts == 0 {
		ts = nowMillis()
	}

	sender := title
	if sender == "" {
		sender = UnknownSender
	}

	return []ParsedMessage{{
		RoomName:   room,
		Sender:     sender,
		Body:       body,
		Timestamp:  ts,
		IsGroup:    &isGroup,
		RawPayload: dump,
	}}
}

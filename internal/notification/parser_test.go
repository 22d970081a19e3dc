package notification

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversationRaw(extras Extras) RawNotification {
	return RawNotification{
		PackageName:    "com.kakao.talk",
		NotificationID: "n-1",
		PostedAt:       1700000000000,
		Extras:         extras,
	}
}

func subMsg(sender, text string, ts int64) map[string]any {
	return map[string]any{"sender": sender, "text": text, "time": float64(ts)}
}

func TestParseGroupSummaryYieldsNothing(t *testing.T) {
	p := NewParser()
	raw := conversationRaw(Extras{
		KeyIsGroupSummary: true,
		KeyTitle:          "3 more messages",
		KeyText:           "3 more messages",
	})
	assert.Empty(t, p.Parse(raw))
}

func TestParseConversationBatchCompleteness(t *testing.T) {
	p := NewParser()
	for k := 1; k <= 20; k++ {
		entries := make([]any, 0, k)
		for i := 0; i < k; i++ {
			entries = append(entries, subMsg("Alice", fmt.Sprintf("message %d", i), int64(1700000000000+i)))
		}
		raw := conversationRaw(Extras{KeyMessages: entries})

		msgs := p.Parse(raw)
		require.Len(t, msgs, k, "batch of %d entries", k)
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprintf("message %d", i), m.Body)
			assert.Equal(t, int64(1700000000000+i), m.Timestamp)
		}
	}
}

func TestParseConversationEmptyBodySkippedIndividually(t *testing.T) {
	p := NewParser()
	raw := conversationRaw(Extras{
		KeyMessages: []any{
			subMsg("Alice", "first", 1),
			subMsg("Alice", "", 2),
			subMsg("Alice", "third", 3),
		},
	})

	msgs := p.Parse(raw)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "third", msgs[1].Body)
}

func TestParseRoomPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		extras   Extras
		wantRoom string
		wantGrp  bool
	}{
		{
			name: "conversation title differing from sender wins",
			extras: Extras{
				KeyConversationTitle: "Support Room",
				KeySubText:           "ignored",
				KeyMessages:          []any{subMsg("Alice", "hi", 1)},
			},
			wantRoom: "Support Room",
			wantGrp:  true,
		},
		{
			name: "conversation title equal to sender falls through to subtext",
			extras: Extras{
				KeyConversationTitle: "Alice",
				KeySubText:           "Team Chat",
				KeyMessages:          []any{subMsg("Alice", "hi", 1)},
			},
			wantRoom: "Team Chat",
			wantGrp:  true,
		},
		{
			name: "no title, subtext names group room",
			extras: Extras{
				KeySubText:  "Team Chat",
				KeyMessages: []any{subMsg("Alice", "hi", 1)},
			},
			wantRoom: "Team Chat",
			wantGrp:  true,
		},
		{
			name: "neither present, sender names 1:1 room",
			extras: Extras{
				KeyMessages: []any{subMsg("Alice", "hi", 1)},
			},
			wantRoom: "Alice",
			wantGrp:  false,
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := p.Parse(conversationRaw(tt.extras))
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantRoom, msgs[0].RoomName)
			require.NotNil(t, msgs[0].IsGroup)
			assert.Equal(t, tt.wantGrp, *msgs[0].IsGroup)
		})
	}
}

func TestParseSenderFallbacks(t *testing.T) {
	p := NewParser()

	raw := conversationRaw(Extras{
		KeyPeople:   []any{"Bob"},
		KeyMessages: []any{map[string]any{"text": "hello", "time": float64(1)}},
	})
	msgs := p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Bob", msgs[0].Sender)

	raw = conversationRaw(Extras{
		KeyMessages: []any{map[string]any{"text": "hello", "time": float64(1)}},
	})
	msgs = p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, UnknownSender, msgs[0].Sender)
}

func TestParseConversationMissingTimeDefaultsToNow(t *testing.T) {
	p := NewParser()
	raw := conversationRaw(Extras{
		KeyMessages: []any{map[string]any{"sender": "Alice", "text": "hi"}},
	})
	msgs := p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Greater(t, msgs[0].Timestamp, int64(0))
}

func TestParseFlatPayload(t *testing.T) {
	p := NewParser()

	raw := conversationRaw(Extras{
		KeyTitle: "Alice",
		KeyText:  "flat hello",
	})
	msgs := p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Alice", msgs[0].RoomName)
	assert.Equal(t, "Alice", msgs[0].Sender)
	assert.Equal(t, "flat hello", msgs[0].Body)
	require.NotNil(t, msgs[0].IsGroup)
	assert.False(t, *msgs[0].IsGroup)
	assert.Equal(t, int64(1700000000000), msgs[0].Timestamp)

	// subText plays the conversation-title role for flat payloads.
	raw = conversationRaw(Extras{
		KeyTitle:   "Alice",
		KeySubText: "Team Chat",
		KeyText:    "group hello",
	})
	msgs = p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Team Chat", msgs[0].RoomName)
	require.NotNil(t, msgs[0].IsGroup)
	assert.True(t, *msgs[0].IsGroup)
}

func TestParseFlatPayloadBigTextFallback(t *testing.T) {
	p := NewParser()
	raw := conversationRaw(Extras{
		KeyTitle:   "Alice",
		KeyBigText: "expanded body",
	})
	msgs := p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, "expanded body", msgs[0].Body)
}

func TestParseFlatPayloadEmptyBodyDropped(t *testing.T) {
	p := NewParser()
	raw := conversationRaw(Extras{KeyTitle: "Alice"})
	assert.Empty(t, p.Parse(raw))
}

func TestParseHostLevelDuplicateInsideBatchIsNotCollapsed(t *testing.T) {
	// Both entries come through the parser; suppression of the second is
	// the deduplicator's job, not the parser's.
	p := NewParser()
	raw := conversationRaw(Extras{
		KeySubText: "",
		KeyMessages: []any{
			subMsg("Alice", "hi", 1700000000000),
			subMsg("Alice", "hi", 1700000000000),
		},
	})
	msgs := p.Parse(raw)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "Alice", m.RoomName)
		require.NotNil(t, m.IsGroup)
		assert.False(t, *m.IsGroup)
	}
}

func TestDebugDumpCarriesRawFields(t *testing.T) {
	raw := conversationRaw(Extras{
		KeyTitle: "Alice",
		KeyText:  "hello",
	})
	dump := raw.DebugDump()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(dump), &decoded))
	assert.Equal(t, "com.kakao.talk", decoded["packageName"])
	extras, ok := decoded["extras"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", extras[KeyText])

	p := NewParser()
	msgs := p.Parse(raw)
	require.Len(t, msgs, 1)
	assert.Equal(t, dump, msgs[0].RawPayload)
}

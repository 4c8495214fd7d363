package chat_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/anonychat/internal/chat"
)

func TestMessage_Validate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ref := chat.FileRef{URL: "/uploads/a.png", OriginalName: "a.png", SizeBytes: 10, MimeType: "image/png"}

	tests := []struct {
		name    string
		msg     chat.Message
		wantErr bool
	}{
		{name: "text", msg: chat.NewText("Alice", "hi", now)},
		{name: "file", msg: chat.NewFile("Alice", ref, now)},
		{name: "system", msg: chat.NewSystem("Alice joined the room", now)},
		{name: "empty text", msg: chat.NewText("Alice", " ", now), wantErr: true},
		{name: "text without author", msg: chat.NewText("", "hi", now), wantErr: true},
		{name: "file with bad ref", msg: chat.NewFile("Alice", chat.FileRef{URL: "/uploads/a"}, now), wantErr: true},
		{name: "zero timestamp", msg: chat.NewText("Alice", "hi", time.Time{}), wantErr: true},
		{
			name:    "text carrying a file",
			msg:     chat.Message{ID: "x", Kind: chat.KindText, AuthorName: "A", Body: "b", File: &ref, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "system with user author",
			msg:     chat.Message{ID: "x", Kind: chat.KindSystem, AuthorName: "Alice", Text: "t", Timestamp: now},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			msg:     chat.Message{ID: "x", Kind: "audio", AuthorName: "A", Timestamp: now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, chat.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMessage_JSONShape(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := chat.NewSystem("Bob left the room", now)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "system", fields["type"])
	assert.Equal(t, "Bob left the room", fields["text"])
	assert.NotContains(t, fields, "body")
	assert.NotContains(t, fields, "file")
}

func TestNewMessages_HaveUniqueIDs(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := chat.NewText("A", "x", now).ID
		require.False(t, seen[id])
		seen[id] = true
	}
}

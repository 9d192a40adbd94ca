package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatPayload(login, name, text string) json.RawMessage {
	payload := map[string]any{
		"subscription": map[string]string{"type": "channel.chat.message"},
		"event": map[string]any{
			"chatter_user_id":    "42",
			"chatter_user_login": login,
			"chatter_user_name":  name,
			"message_id":         "mid-1",
			"color":              "#FF0000",
			"message":            map[string]string{"text": text},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage(chatPayload("viewer", "Viewer", "hello there"))
	require.NoError(t, err)

	assert.Equal(t, "42", msg.ChatterUserID)
	assert.Equal(t, "viewer", msg.ChatterUserLogin)
	assert.Equal(t, "Viewer", msg.ChatterUserName)
	assert.Equal(t, "mid-1", msg.MessageID)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, "#FF0000", msg.Color)
}

func TestParseMessage_InvalidPayload(t *testing.T) {
	_, err := ParseMessage(json.RawMessage("{broken"))
	require.Error(t, err)
}

func TestIsCommand(t *testing.T) {
	assert.True(t, Message{Text: "!hello"}.IsCommand())
	assert.False(t, Message{Text: "hello"}.IsCommand())
	assert.False(t, Message{Text: "say !hello"}.IsCommand())
}

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand(Message{Text: "!cmdadd greet Hello and welcome!"})

	assert.Equal(t, "!", cmd.Identifier)
	assert.Equal(t, "cmdadd", cmd.Name)
	assert.Equal(t, "greet Hello and welcome!", cmd.Args)
}

func TestParseCommand_NoArgs(t *testing.T) {
	cmd := ParseCommand(Message{Text: "!hello"})

	assert.Equal(t, "hello", cmd.Name)
	assert.Empty(t, cmd.Args)
}

// Package chat consumes dispatched channel.chat.message events: it parses
// chat messages, routes "!" commands to handlers, and manages a persisted
// set of custom text commands.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one chat message extracted from a notification payload.
type Message struct {
	ChatterUserID    string
	ChatterUserLogin string
	ChatterUserName  string
	MessageID        string
	Text             string
	Color            string
}

// commandIdentifier prefixes chat commands.
const commandIdentifier = "!"

// ParseMessage extracts the chat message fields from the payload of a
// channel.chat.message notification.
func ParseMessage(payload json.RawMessage) (Message, error) {
	var p struct {
		Event struct {
			ChatterUserID    string `json:"chatter_user_id"`
			ChatterUserLogin string `json:"chatter_user_login"`
			ChatterUserName  string `json:"chatter_user_name"`
			MessageID        string `json:"message_id"`
			Color            string `json:"color"`
			Message          struct {
				Text string `json:"text"`
			} `json:"message"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, fmt.Errorf("failed to parse chat payload: %w", err)
	}

	return Message{
		ChatterUserID:    p.Event.ChatterUserID,
		ChatterUserLogin: p.Event.ChatterUserLogin,
		ChatterUserName:  p.Event.ChatterUserName,
		MessageID:        p.Event.MessageID,
		Text:             p.Event.Message.Text,
		Color:            p.Event.Color,
	}, nil
}

// IsCommand reports whether the message text is a chat command.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(m.Text, commandIdentifier)
}

// Command is a parsed "!command args" chat message.
type Command struct {
	Message
	Identifier string
	Name       string
	Args       string
}

// ParseCommand splits a command message into identifier, command name,
// and the remaining arguments.
func ParseCommand(m Message) Command {
	parts := strings.Split(m.Text, " ")
	return Command{
		Message:    m,
		Identifier: parts[0][:1],
		Name:       parts[0][1:],
		Args:       strings.Join(parts[1:], " "),
	}
}

package handler

import (
	"context"
	"log/slog"
)

// ChatMessageType is the subscription type for chat messages.
const ChatMessageType = "channel.chat.message"

// ChatMessage is the subset of a channel.chat.message event the logger reads.
type ChatMessage struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	ChatterUserID        string `json:"chatter_user_id"`
	ChatterUserLogin     string `json:"chatter_user_login"`
	MessageID            string `json:"message_id"`
	Message              struct {
		Text string `json:"text"`
	} `json:"message"`
}

// RegisterChatLogger logs each chat message as "[broadcaster] chatter: text".
func RegisterChatLogger(r *Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	RegisterTyped(r, ChatMessageType, func(_ context.Context, e Event, msg ChatMessage) error {
		logger.Info("["+msg.BroadcasterUserLogin+"] "+msg.ChatterUserLogin+": "+msg.Message.Text,
			"broadcaster_id", e.BroadcasterID,
			"chat_message_id", msg.MessageID,
		)
		return nil
	})
}

// Package wire holds the JSON shapes exchanged with the CRM backend over REST
// and the push channel, and their conversion to store types.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wacrm/internal/store"
)

// Chat is an element of GET /api/chats.
type Chat struct {
	ID              string `json:"id"`
	Phone           string `json:"phone"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	ReferredBy      string `json:"referredBy,omitempty"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime Time   `json:"lastMessageTime"`
	UnreadCount     int    `json:"unreadCount"`
	IsPaid          bool   `json:"isPaid"`
}

// Conversation converts the chat to a store.Conversation.
func (c Chat) Conversation() store.Conversation {
	return store.Conversation{
		Identity:           c.Phone,
		DisplayName:        c.Name,
		StatusTag:          c.Status,
		ReferredBy:         c.ReferredBy,
		LastMessagePreview: c.LastMessage,
		LastMessageAt:      c.LastMessageTime.Time,
		Paid:               c.IsPaid,
		ServerUnread:       c.UnreadCount,
	}
}

// Message is an element of GET /api/messages/{phone}.
type Message struct {
	ID                string `json:"id"`
	Message           string `json:"message"`
	Direction         string `json:"direction"`
	Timestamp         Time   `json:"timestamp"`
	MessageType       string `json:"messageType,omitempty"`
	Status            string `json:"status,omitempty"`
	WhatsappMessageID string `json:"whatsappMessageId,omitempty"`
	IsRead            bool   `json:"isRead,omitempty"`
}

// StoreMessage converts the fetched message to a store.Message.
func (m Message) StoreMessage() store.Message {
	return store.Message{
		ID:               m.ID,
		ChannelMessageID: m.WhatsappMessageID,
		Body:             m.Message,
		Kind:             kind(m.MessageType),
		Direction:        direction(m.Direction),
		Status:           store.ParseStatus(m.Status),
		Timestamp:        m.Timestamp.Time,
		Read:             m.IsRead,
	}
}

// MessageList accepts both shapes the backend has used for the messages
// endpoint: a bare array or an object wrapping it under "messages".
type MessageList []Message

func (l *MessageList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var wrapped struct {
			Messages []Message `json:"messages"`
		}
		if err := json.Unmarshal(b, &wrapped); err != nil {
			return fmt.Errorf("decode wrapped message list: %w", err)
		}
		*l = wrapped.Messages
		return nil
	}
	var arr []Message
	if err := json.Unmarshal(b, &arr); err != nil {
		return fmt.Errorf("decode message list: %w", err)
	}
	*l = arr
	return nil
}

// SendRequest is the body of POST /api/send-message.
type SendRequest struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	TempID    string `json:"tempId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	UserName  string `json:"userName,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
}

// SendResponse is the reply of POST /api/send-message. Success is optional:
// a reply carrying only the message ids is an acceptance.
type SendResponse struct {
	Success           *bool  `json:"success,omitempty"`
	MessageID         string `json:"messageId,omitempty"`
	WhatsappMessageID string `json:"whatsappMessageId,omitempty"`
	TempID            string `json:"tempId,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Rejected reports whether the backend explicitly refused the send.
func (r *SendResponse) Rejected() bool {
	return (r.Success != nil && !*r.Success) || r.Error != ""
}

// UpdateStatusRequest is the body of POST /api/update-status.
type UpdateStatusRequest struct {
	Phone  string `json:"phone"`
	Status string `json:"status"`
}

// NewMessageEvent is the payload of the new_message push event.
type NewMessageEvent struct {
	Phone             string `json:"phone"`
	Message           string `json:"message"`
	Direction         string `json:"direction"`
	Timestamp         Time   `json:"timestamp"`
	MessageID         string `json:"messageId,omitempty"`
	WhatsappMessageID string `json:"whatsappMessageId,omitempty"`
	TempID            string `json:"tempId,omitempty"`
	Status            string `json:"status,omitempty"`
	MessageType       string `json:"messageType,omitempty"`
}

// StoreMessage converts the event to a store.Message. Outbound events carry
// the echoed provisional id when the backend relays one.
func (e NewMessageEvent) StoreMessage() store.Message {
	m := store.Message{
		ID:               e.MessageID,
		ProvisionalID:    e.TempID,
		ChannelMessageID: e.WhatsappMessageID,
		Body:             e.Message,
		Kind:             kind(e.MessageType),
		Direction:        direction(e.Direction),
		Status:           store.ParseStatus(e.Status),
		Timestamp:        e.Timestamp.Time,
	}
	// Push never drives a message into failed.
	if m.Status == store.StatusFailed {
		m.Status = ""
	}
	if m.Direction == store.Outbound && m.Status == "" && m.Confirmed() {
		m.Status = store.StatusSent
	}
	return m
}

// StatusUpdateEvent is the payload of the message_status_update push event.
type StatusUpdateEvent struct {
	MessageID         string `json:"messageId,omitempty"`
	WhatsappMessageID string `json:"whatsappMessageId,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Status            string `json:"status"`
	Timestamp         Time   `json:"timestamp,omitempty"`
}

// UserStatusEvent is the payload of the user_status_update push event.
type UserStatusEvent struct {
	Phone  string `json:"phone"`
	Status string `json:"status"`
}

// NewUserEvent is the payload of the new_user_created push event.
type NewUserEvent struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

func direction(s string) store.Direction {
	if s == string(store.Outbound) {
		return store.Outbound
	}
	return store.Inbound
}

func kind(s string) string {
	if s == "" {
		return "text"
	}
	return s
}

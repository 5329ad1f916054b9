// Package chat runs the recipe assistant conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// HistoryLimit is how many earlier turns are sent with a new message.
const HistoryLimit = 10

// Replies used when the upstream cannot answer.
const (
	FallbackUnavailable = "Sorry, I'm having trouble connecting to my recipe database. Please try again in a moment."
	FallbackEmpty       = "Sorry, I couldn't generate a response right now. Please try again."
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is required")

const systemPrompt = `You are a helpful and knowledgeable recipe generator bot for Annapurna Pantry. You can:

1. Generate recipes based on user requests
2. Suggest recipes using available pantry ingredients
3. Provide cooking tips and techniques
4. Answer food-related questions
5. Help with meal planning
6. Provide nutritional information
7. Suggest ingredient substitutions

Available pantry items: %s

Keep responses helpful, concise, and practical. Always be friendly and encouraging. If asked about non-food topics, politely redirect to cooking and recipes.`

// SystemPrompt folds the pantry into the assistant instructions.
func SystemPrompt(pantry []model.PantryItem) string {
	if len(pantry) == 0 {
		return fmt.Sprintf(systemPrompt, "None available")
	}
	parts := make([]string, 0, len(pantry))
	for _, item := range pantry {
		parts = append(parts, fmt.Sprintf("%s (%s %s)", item.Name, item.Quantity, item.Unit))
	}
	return fmt.Sprintf(systemPrompt, strings.Join(parts, ", "))
}

// BuildMessages assembles the upstream request: instructions, the last
// HistoryLimit turns of history and the new message.
func BuildMessages(pantry []model.PantryItem, history []model.ChatMessage, text string) []Message {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: SystemPrompt(pantry)})
	for _, m := range history {
		role := "assistant"
		if m.Type == model.ChatUser {
			role = "user"
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}
	return append(msgs, Message{Role: "user", Content: text})
}

// Store is the part of the item store the assistant needs.
type Store interface {
	Pantry(ctx context.Context, namespace string) ([]model.PantryItem, error)
	ChatHistory(ctx context.Context, namespace, userKey string) ([]model.ChatMessage, error)
	SetChatHistory(ctx context.Context, namespace, userKey string, msgs []model.ChatMessage) error
	ClearChatHistory(ctx context.Context, namespace, userKey string) error
}

// Service keeps one persisted conversation per user.
type Service struct {
	Store     Store
	Completer Completer
	Now       func() time.Time
}

// NewService creates a service. A nil completer makes every reply the
// unavailable fallback.
func NewService(st Store, completer Completer) *Service {
	return &Service{Store: st, Completer: completer, Now: time.Now}
}

func welcome(id, name string, now time.Time) model.ChatMessage {
	if name == "" {
		name = "there"
	}
	return model.ChatMessage{
		ID:        id,
		Type:      model.ChatBot,
		Content:   fmt.Sprintf("Hii %s, I am a recipe generator bot. How can I help you?", name),
		Timestamp: now.UnixMilli(),
	}
}

// History returns the conversation, starting a new one with a welcome
// message when there is none.
func (s *Service) History(ctx context.Context, namespace, userKey, name string) []model.ChatMessage {
	history, _ := s.history(ctx, namespace, userKey, name)
	return history
}

// history is History that also reports whether the stored conversation
// may be replaced. It may not when the backend failed to read it.
func (s *Service) history(ctx context.Context, namespace, userKey, name string) ([]model.ChatMessage, bool) {
	history, err := s.Store.ChatHistory(ctx, namespace, userKey)
	switch {
	case errors.Is(err, store.ErrMalformed):
		slog.Warn("malformed chat history, starting over", "namespace", namespace, "error", err)
	case err != nil:
		slog.Error("reading chat history", "namespace", namespace, "error", err)
		return []model.ChatMessage{welcome("welcome", name, s.Now())}, false
	}
	if len(history) > 0 {
		return history, true
	}

	history = []model.ChatMessage{welcome("welcome", name, s.Now())}
	if err := s.Store.SetChatHistory(ctx, namespace, userKey, history); err != nil {
		slog.Warn("saving chat history", "namespace", namespace, "error", err)
	}
	return history, true
}

// Send records text, asks the assistant and records its reply. Upstream
// failures produce a fallback reply instead of an error.
func (s *Service) Send(ctx context.Context, namespace, userKey, name, text string) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}

	history, writable := s.history(ctx, namespace, userKey, name)
	pantry, err := s.Store.Pantry(ctx, namespace)
	if err != nil {
		slog.Warn("reading pantry for chat", "namespace", namespace, "error", err)
	}

	now := s.Now()
	question := model.ChatMessage{
		ID:        uuid.NewString(),
		Type:      model.ChatUser,
		Content:   text,
		Timestamp: now.UnixMilli(),
	}
	reply := model.ChatMessage{
		ID:        uuid.NewString(),
		Type:      model.ChatBot,
		Content:   s.complete(ctx, BuildMessages(pantry, history, text)),
		Timestamp: s.Now().UnixMilli(),
	}

	if !writable {
		return reply, nil
	}
	history = append(history, question, reply)
	if err := s.Store.SetChatHistory(ctx, namespace, userKey, history); err != nil {
		slog.Error("saving chat history", "namespace", namespace, "error", err)
	}
	return reply, nil
}

func (s *Service) complete(ctx context.Context, msgs []Message) string {
	if s.Completer == nil {
		return FallbackUnavailable
	}
	answer, err := s.Completer.Complete(ctx, msgs)
	switch {
	case errors.Is(err, ErrEmptyResponse):
		return FallbackEmpty
	case err != nil:
		slog.Warn("chat completion failed", "error", err)
		return FallbackUnavailable
	}
	return answer
}

// Clear drops the conversation and starts a new one.
func (s *Service) Clear(ctx context.Context, namespace, userKey, name string) []model.ChatMessage {
	if err := s.Store.ClearChatHistory(ctx, namespace, userKey); err != nil {
		slog.Warn("clearing chat history", "namespace", namespace, "error", err)
	}
	history := []model.ChatMessage{welcome("welcome-new", name, s.Now())}
	if err := s.Store.SetChatHistory(ctx, namespace, userKey, history); err != nil {
		slog.Warn("saving chat history", "namespace", namespace, "error", err)
	}
	return history
}

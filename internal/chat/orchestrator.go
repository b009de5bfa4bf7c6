// Package chat turns an admitted visitor message into an assistant
// reply: it persists the turn, assembles the prompt from page context
// and the knowledge base, and calls the configured provider.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sitechat/sitechat/internal/knowledge"
	"github.com/sitechat/sitechat/internal/notify"
	"github.com/sitechat/sitechat/internal/providers"
	"github.com/sitechat/sitechat/internal/store"
)

// historyLimit caps how many prior turns travel to the provider.
const historyLimit = 20

// Request is one visitor message with the page it was sent from.
type Request struct {
	SessionID string
	Message   string
	Page      knowledge.PageContext
}

// Reply is the assistant's answer.
type Reply struct {
	Text      string
	SessionID string
	Model     string
}

// Orchestrator wires the store, knowledge base, provider, and alert
// dispatcher together. Alerts is optional.
type Orchestrator struct {
	Store    store.Store
	KB       *knowledge.Base
	Provider providers.Provider
	Alerts   *notify.Dispatcher
}

// Handle processes one admitted message end to end. The user turn is
// saved before the provider call so a provider failure never loses the
// visitor's message.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Reply, error) {
	o.publishSentiment(req)

	pageCtx := pageContextMap(req.Page)
	userMsg := store.NewMessage(req.SessionID, store.RoleUser, req.Message, pageCtx)
	if err := o.Store.SaveMessage(ctx, userMsg); err != nil {
		return Reply{}, fmt.Errorf("chat: save user message: %w", err)
	}

	history, err := o.Store.Messages(ctx, req.SessionID, historyLimit)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: load history: %w", err)
	}

	msgs := make([]providers.ChatMessage, 0, len(history))
	for _, m := range history {
		role := providers.RoleUser
		if m.Role == store.RoleAssistant {
			role = providers.RoleAssistant
		}
		msgs = append(msgs, providers.ChatMessage{Role: role, Content: m.Content})
	}

	resp, err := o.Provider.Chat(ctx, providers.ChatRequest{
		System:   o.KB.BuildSystemPrompt(req.Page),
		Messages: msgs,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat: provider: %w", err)
	}

	assistantMsg := store.NewMessage(req.SessionID, store.RoleAssistant, resp.Content, pageCtx)
	if err := o.Store.SaveMessage(ctx, assistantMsg); err != nil {
		// The reply already exists; losing its persistence is a
		// degradation, not a failure the visitor should see.
		slog.Error("chat.save_reply_failed", "session", req.SessionID, "error", err)
	}

	slog.Info("chat.handled",
		"session", req.SessionID,
		"provider", o.Provider.Name(),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens)

	return Reply{Text: resp.Content, SessionID: req.SessionID, Model: resp.Model}, nil
}

// publishSentiment raises operator alerts for escalations and feedback.
// Detection runs on the raw message before any provider involvement.
func (o *Orchestrator) publishSentiment(req Request) {
	if o.Alerts == nil {
		return
	}
	excerpt := req.Message
	if len(excerpt) > 300 {
		excerpt = excerpt[:300]
	}
	switch DetectSentiment(req.Message) {
	case SentimentEscalation:
		o.Alerts.Publish(notify.EscalationAlert(
			"Visitor is asking for help or reporting a problem",
			excerpt, req.SessionID, req.Page.URL))
	case SentimentNegative:
		o.Alerts.Publish(notify.FeedbackAlert(excerpt, "negative", req.SessionID, req.Page.URL))
	case SentimentPositive:
		o.Alerts.Publish(notify.FeedbackAlert(excerpt, "positive", req.SessionID, req.Page.URL))
	}
}

func pageContextMap(p knowledge.PageContext) map[string]any {
	if p.URL == "" && p.Title == "" && p.MetaDescription == "" &&
		len(p.Headings) == 0 && p.SelectedText == "" {
		return nil
	}
	m := map[string]any{
		"url":   p.URL,
		"title": p.Title,
	}
	if p.MetaDescription != "" {
		m["meta_description"] = p.MetaDescription
	}
	if len(p.Headings) > 0 {
		m["headings"] = p.Headings
	}
	if p.SelectedText != "" {
		m["selected_text"] = p.SelectedText
	}
	return m
}

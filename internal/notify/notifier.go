// Package notify delivers operator alerts over Telegram. Alerts carry
// escalations, visitor feedback, and security events raised by the
// admission gate.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// AlertType selects the emoji and headline of a formatted alert.
type AlertType string

const (
	AlertInfo       AlertType = "info"
	AlertEscalation AlertType = "escalation"
	AlertFeedback   AlertType = "feedback"
	AlertSecurity   AlertType = "security"
	AlertError      AlertType = "error"
)

var alertEmoji = map[AlertType]string{
	AlertInfo:       "ℹ️",
	AlertEscalation: "\U0001F6A8",
	AlertFeedback:   "\U0001F4AC",
	AlertSecurity:   "\U0001F6E1",
	AlertError:      "❌",
}

// Alert is one operator notification.
type Alert struct {
	Type      AlertType
	Message   string
	SessionID string
	PageURL   string
	Time      time.Time
}

// botAPI is the slice of telego the notifier uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	GetMe(ctx context.Context) (*telego.User, error)
}

// Notifier formats alerts and sends them to one Telegram chat. A nil
// Notifier is valid and drops everything, so callers never branch on
// whether alerting is configured.
type Notifier struct {
	bot    botAPI
	chatID int64
}

// New builds a Notifier from a bot token and chat ID. Returns nil when
// either is empty, which disables alerting.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("notify: create bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// Send formats and delivers one alert.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	if n == nil {
		return nil
	}
	msg := tu.Message(tu.ID(n.chatID), FormatAlert(a))
	if _, err := n.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("notify: send alert: %w", err)
	}
	return nil
}

// TestConnection verifies the bot token by calling getMe and sends a
// probe message to the configured chat.
func (n *Notifier) TestConnection(ctx context.Context) (string, error) {
	if n == nil {
		return "", fmt.Errorf("notify: telegram is not configured")
	}
	me, err := n.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("notify: getMe: %w", err)
	}
	err = n.Send(ctx, Alert{
		Type:    AlertInfo,
		Message: "Test message: the alert channel is working.",
		Time:    time.Now(),
	})
	if err != nil {
		return "", err
	}
	return me.Username, nil
}

// FormatAlert renders the plain-text alert body. No Telegram markup is
// used, so nothing needs escaping.
func FormatAlert(a Alert) string {
	emoji, ok := alertEmoji[a.Type]
	if !ok {
		emoji = alertEmoji[AlertInfo]
	}
	when := a.Time
	if when.IsZero() {
		when = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", emoji, strings.ToUpper(string(a.Type)))
	fmt.Fprintf(&b, "⏰ %s\n\n", when.Format("2006-01-02 15:04:05"))
	b.WriteString(a.Message)

	if a.SessionID != "" {
		id := a.SessionID
		if len(id) > 20 {
			id = id[:20] + "..."
		}
		fmt.Fprintf(&b, "\n\n\U0001F4CD Session: %s", id)
	}
	if a.PageURL != "" {
		fmt.Fprintf(&b, "\n\U0001F517 Page: %s", a.PageURL)
	}
	return b.String()
}

// EscalationAlert builds the alert for a conversation the assistant
// handed off to a human. The summary is capped to keep the message
// readable on a phone.
func EscalationAlert(reason, summary, sessionID, pageURL string) Alert {
	msg := "Reason: " + reason
	if summary != "" {
		const maxSummary = 500
		if len(summary) > maxSummary {
			summary = summary[:maxSummary] + "..."
		}
		msg += "\n\n\U0001F4AC Conversation:\n" + summary
	}
	return Alert{Type: AlertEscalation, Message: msg, SessionID: sessionID, PageURL: pageURL, Time: time.Now()}
}

// FeedbackAlert builds the alert for detected visitor feedback.
func FeedbackAlert(text, sentiment, sessionID, pageURL string) Alert {
	emoji := map[string]string{
		"positive": "\U0001F60A",
		"negative": "\U0001F61E",
	}[sentiment]
	if emoji == "" {
		emoji = "\U0001F610"
		sentiment = "neutral"
	}
	msg := fmt.Sprintf("%s Sentiment: %s\n\n%s", emoji, sentiment, text)
	return Alert{Type: AlertFeedback, Message: msg, SessionID: sessionID, PageURL: pageURL, Time: time.Now()}
}

// SecurityAlert builds the alert for an admission gate rejection.
func SecurityAlert(identity, reason, detail string) Alert {
	msg := fmt.Sprintf("Identity: %s\nReason: %s", identity, reason)
	if detail != "" {
		msg += "\nDetail: " + detail
	}
	return Alert{Type: AlertSecurity, Message: msg, Time: time.Now()}
}

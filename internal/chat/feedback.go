package chat

import "strings"

// Sentiment classifies a visitor message for operator alerting.
type Sentiment string

const (
	SentimentNone       Sentiment = ""
	SentimentEscalation Sentiment = "escalation"
	SentimentNegative   Sentiment = "negative"
	SentimentPositive   Sentiment = "positive"
)

// Keyword stems rather than whole words, so inflected forms match.
var (
	escalationStems = []string{
		"человек", "оператор", "менеджер", "поддержк",
		"не работа", "сломал", "баг", "ошибк",
		"не могу", "не получ", "помоги", "срочно",
		"talk to human", "real person", "support", "help me",
	}
	positiveStems = []string{
		"спасибо", "благодар",
		"отлично", "супер", "класс", "молодец", "круто", "здорово",
		"помогл", "получил", "понял", "разобрал",
		"thank", "great", "awesome", "helpful", "works", "nice", "cool",
	}
	negativeStems = []string{
		"плохо", "ужасн", "отстой", "фигн", "хрен",
		"не помог", "бесполезн", "не понима", "тупой", "глуп", "идиот",
		"не работа", "сломал",
		"useless", "stupid", "bad", "terrible", "suck", "hate",
	}
)

func containsAny(s string, stems []string) bool {
	for _, stem := range stems {
		if strings.Contains(s, stem) {
			return true
		}
	}
	return false
}

// DetectSentiment classifies a message. Escalation wins over feedback,
// and a message that reads both positive and negative is treated as
// negative since the praise is likely sarcastic.
func DetectSentiment(message string) Sentiment {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, escalationStems):
		return SentimentEscalation
	case containsAny(lower, negativeStems):
		return SentimentNegative
	case containsAny(lower, positiveStems):
		return SentimentPositive
	default:
		return SentimentNone
	}
}

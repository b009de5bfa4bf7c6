// Package security implements the message-intake pipeline: attack pattern
// detection, sliding-window rate limiting, strike/ban escalation, and the
// admission gate that composes them. Every inbound chat message passes
// through this package before it reaches the model provider.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Category classifies a detected attack signature.
type Category string

const (
	CategoryNone            Category = "none"
	CategorySQLInjection    Category = "sql_injection"
	CategoryScriptInjection Category = "script_injection"
	CategoryPromptInjection Category = "prompt_injection"

	// ViolationRateLimit labels a strike caused by a rate-limit rejection.
	// Never returned by Inspect; used only when recording violations.
	ViolationRateLimit Category = "rate_limit"
)

// categoryOrder is the fixed inspection priority. The first category with
// a matching signature wins.
var categoryOrder = []Category{
	CategorySQLInjection,
	CategoryScriptInjection,
	CategoryPromptInjection,
}

// Inspection is the result of matching one message against the signature set.
type Inspection struct {
	Matched  bool
	Category Category
}

type signatureSet struct {
	category Category
	patterns []*regexp.Regexp
}

// PatternMatcher tests message text against a curated signature library.
// The signature set is immutable after construction; Inspect is pure and
// safe for concurrent use.
type PatternMatcher struct {
	sets []signatureSet
}

// NewPatternMatcher builds a matcher with the default signature library.
func NewPatternMatcher() *PatternMatcher {
	m, err := NewPatternMatcherWith(nil)
	if err != nil {
		// Default signatures are compile-tested; this cannot happen.
		panic(err)
	}
	return m
}

// NewPatternMatcherWith builds a matcher, replacing the default signatures
// of any category present in overrides. Signatures are case-insensitive
// regular expressions. An unknown category or a malformed pattern is a
// configuration error.
func NewPatternMatcherWith(overrides map[Category][]string) (*PatternMatcher, error) {
	defaults := map[Category][]string{
		CategorySQLInjection:    defaultSQLSignatures,
		CategoryScriptInjection: defaultScriptSignatures,
		CategoryPromptInjection: defaultPromptSignatures,
	}

	for cat := range overrides {
		if _, ok := defaults[cat]; !ok {
			return nil, fmt.Errorf("unknown signature category %q", cat)
		}
	}

	m := &PatternMatcher{}
	for _, cat := range categoryOrder {
		raw := defaults[cat]
		if custom, ok := overrides[cat]; ok {
			raw = custom
		}
		set := signatureSet{category: cat}
		for _, expr := range raw {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("compile %s signature %q: %w", cat, expr, err)
			}
			set.patterns = append(set.patterns, re)
		}
		m.sets = append(m.sets, set)
	}
	return m, nil
}

// Inspect tests text against all categories in priority order
// (sql_injection, then script_injection, then prompt_injection).
// Empty or whitespace-only text never matches: emptiness is a validation
// concern, not an attack signal.
func (m *PatternMatcher) Inspect(text string) Inspection {
	if strings.TrimSpace(text) == "" {
		return Inspection{Category: CategoryNone}
	}
	for _, set := range m.sets {
		for _, re := range set.patterns {
			if re.MatchString(text) {
				return Inspection{Matched: true, Category: set.category}
			}
		}
	}
	return Inspection{Category: CategoryNone}
}

// SignatureCount returns the number of compiled signatures per category.
func (m *PatternMatcher) SignatureCount() map[Category]int {
	counts := make(map[Category]int, len(m.sets))
	for _, set := range m.sets {
		counts[set.category] = len(set.patterns)
	}
	return counts
}

var defaultSQLSignatures = []string{
	`union\s+(all\s+)?select`,
	`drop\s+table`,
	`truncate\s+table`,
	`insert\s+into`,
	`delete\s+from`,
	`update\s+\w+\s+set\s`,
	`('|%27)\s*(or|and)\s+('|%27)?\d`,
	`'\s*or\s+'?1'?\s*=\s*'?1`,
	`;\s*--`,
	`exec(ute)?\s+(xp_|sp_)`,
	`information_schema\.`,
	`load_file\s*\(`,
	`into\s+(out|dump)file`,
}

var defaultScriptSignatures = []string{
	`<\s*script\b`,
	`javascript\s*:`,
	`on(load|error|click|mouseover|focus)\s*=`,
	`document\s*\.\s*(cookie|write)`,
	`window\s*\.\s*location`,
	`<\s*iframe\b`,
	`eval\s*\(`,
	`exec\s*\(`,
	`subprocess`,
	`__import__`,
	`os\s*\.\s*system`,
	`rm\s+-rf`,
	`cat\s+/etc/`,
	`cat\s+~/\.ssh`,
	`/bin/(ba)?sh`,
	`(curl|wget)\s+\S+\s*\|`,
}

var defaultPromptSignatures = []string{
	`ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|rules?|prompts?)`,
	`disregard\s+(all\s+)?(previous|prior|above|earlier)`,
	`forget\s+(all\s+)?(previous|prior|above|earlier|everything)`,
	`new\s+instructions?\s*:`,
	`\bsystem\s*:`,
	`<\s*/?\s*system\s*>`,
	`\[\s*system\s*\]`,
	`<\|im_start\|>\s*system`,
	`<<SYS>>`,
	`you\s+are\s+now\s+`,
	`from\s+now\s+on\s+you\s+are`,
	`act\s+as\s+if\s+you`,
	`pretend\s+(you\s+are|to\s+be)`,
	`roleplay\s+as`,
	`what\s+is\s+your\s+system\s+prompt`,
	`(show|print|dump)\s+(me\s+)?your\s+(system\s+)?(prompt|instructions|config)`,
	`your\s+api\s+key`,
	`ты\s+теперь`,
	`новые\s+инструкции`,
	`игнорируй\s+(предыдущ|вс[её]|выше)`,
	`забудь\s+(предыдущ|вс[её]|выше)`,
	`покажи\s+(свой\s+)?(промпт|конфиг|настройки)`,
}

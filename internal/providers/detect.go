package providers

import "strings"

// DetectVendor infers the adapter from the base URL so configuration
// only needs one endpoint field. Unknown hosts get the OpenAI adapter
// since most gateways are OpenAI-compatible.
func DetectVendor(baseURL string) string {
	lower := strings.ToLower(baseURL)
	switch {
	case strings.Contains(lower, "anthropic.com"):
		return "anthropic"
	case strings.Contains(lower, "googleapis.com"), strings.Contains(lower, "generativelanguage"):
		return "gemini"
	default:
		return "openai"
	}
}

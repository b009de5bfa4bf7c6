package knowledge

import "strings"

// defaultPromptTemplate is used when the knowledge directory carries no
// system_prompt.md. Placeholders match the template file contract.
const defaultPromptTemplate = `You are the AI assistant embedded on this website.

PAGE CONTEXT:
- URL: {page_url}
- Title: {page_title}
- Description: {page_description}
{page_headings}
{selected_text}

KNOWLEDGE BASE:
{knowledge_base}

RULES:
1. Answer briefly and to the point (2-4 sentences)
2. Use the page context to keep answers relevant
3. If the visitor selected text on the page, take it into account
4. Reply in the visitor's language
5. If you do not know the answer, say so honestly
6. Be polite and helpful`

// PageContext carries what the widget scraped from the hosting page.
type PageContext struct {
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	MetaDescription string              `json:"meta_description"`
	Headings        map[string][]string `json:"headings"`
	SelectedText    string              `json:"selected_text"`
}

// BuildSystemPrompt fills the template placeholders from the page
// context and the loaded knowledge content.
func (b *Base) BuildSystemPrompt(page PageContext) string {
	url := page.URL
	if url == "" {
		url = "unknown"
	}
	title := page.Title
	if title == "" {
		title = "unknown"
	}

	var headings strings.Builder
	if h1 := page.Headings["h1"]; len(h1) > 0 {
		headings.WriteString("- H1: " + strings.Join(h1, ", "))
	}
	if h2 := page.Headings["h2"]; len(h2) > 0 {
		if len(h2) > 5 {
			h2 = h2[:5]
		}
		if headings.Len() > 0 {
			headings.WriteString("\n")
		}
		headings.WriteString("- H2: " + strings.Join(h2, ", "))
	}

	selected := ""
	if page.SelectedText != "" {
		selected = "- Selected text: " + page.SelectedText
	}

	kb := b.Content()
	if kb == "" {
		kb = "Knowledge base is not loaded."
	}

	r := strings.NewReplacer(
		"{page_url}", url,
		"{page_title}", title,
		"{page_description}", page.MetaDescription,
		"{page_headings}", headings.String(),
		"{selected_text}", selected,
		"{knowledge_base}", kb,
	)
	return r.Replace(b.PromptTemplate())
}

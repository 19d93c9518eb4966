package translator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageName renders tag in English, e.g. "Simplified Chinese".
func LanguageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

func buildSystemPrompt(source, target language.Tag, domain string) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("You are a professional translator of books from %s to %s.",
		LanguageName(source), LanguageName(target)))
	if domain != "" {
		prompt.WriteString(fmt.Sprintf(" You specialize in %s.", domain))
	}
	prompt.WriteString("\n")
	prompt.WriteString("Translate the user's text line by line. Each input line maps to exactly one output line.\n")
	prompt.WriteString("Keep the original line breaks. Do not merge, split or omit lines.\n")
	prompt.WriteString("Return only the translated text, joined with the same line separator so it can be split again.\n")
	prompt.WriteString("Do not add explanations, numbering or any extra text.")

	return prompt.String()
}

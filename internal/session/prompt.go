package session

import (
	"fmt"
	"strings"
)

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ja": "Japanese",
	"zh": "Chinese",
	"hi": "Hindi",
}

// LanguageName maps a BCP 47 tag such as "fr-FR" to a display name. Unknown
// tags are returned unchanged.
func LanguageName(tag string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	if name, ok := languageNames[strings.ToLower(base)]; ok {
		return name
	}
	return tag
}

// SystemPrompt is the default system instruction for voice conversations.
func SystemPrompt(language string) string {
	return fmt.Sprintf(`You are a helpful voice assistant having a spoken conversation.
Always reply in %s.
Keep answers short and conversational: one to three sentences.
Do not use markdown, lists, code blocks or emoji; your reply is read aloud.`, LanguageName(language))
}

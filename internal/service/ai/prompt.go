package ai

import "strings"

// systemPrompt is the fixed instruction sent on every turn.
const systemPrompt = `You are a helpful, intelligent voice assistant with access to custom knowledge through retrieved document passages.

Guidelines:
- Be conversational and natural in your responses
- Use the provided context from documents when available
- Keep responses concise but informative
- If you don't know something, say so rather than guessing
- When discussing property data, mention specific details like addresses, rents, sizes, and broker information

Your responses may be converted to speech, so use natural language that sounds good when spoken.`

// BuildQuery assembles the user message for a turn. The context block is
// always present, even when no passages were retrieved.
func BuildQuery(contextPassages []string, userText string) string {
	var b strings.Builder
	b.WriteString("Context from documents:\n")
	if len(contextPassages) > 0 {
		b.WriteString(strings.Join(contextPassages, "\n\n"))
	}
	b.WriteString("\n\nUser question: ")
	b.WriteString(userText)
	return b.String()
}

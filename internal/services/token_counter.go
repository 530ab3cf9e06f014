package services

import (
	"strings"

	"brokerbot/internal/models"
)

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// SumTokens totals the stored token counts of a run of messages.
func SumTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += msg.TokenCount
	}
	return total
}

// TruncateToTokens cuts text down so its estimated token count does not
// exceed budget. Cuts at a word boundary when one is close enough and
// appends an ellipsis when anything was dropped.
func TruncateToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	maxChars := budget * 4
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ") + "..."
}

package usecase

import (
	"fudosan-agent/internal/domain"
)

// buildContext assembles the conversation context: the system instruction,
// one user/assistant pair per prior turn in the given order, then the new
// user text. history must already be oldest-first.
func buildContext(systemPrompt, text string, history []domain.Turn) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2+2*len(history))
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})

	for _, t := range history {
		messages = append(messages, turnToMessages(t)...)
	}

	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})
}

// turnToMessages replays a stored turn verbatim. Only rows missing a side
// entirely are skipped; whitespace is content.
func turnToMessages(t domain.Turn) []domain.ChatMessage {
	if t.Question == "" || t.Response == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: t.Question},
		{Role: domain.RoleAssistant, Content: t.Response},
	}
}

// newestFirst reports whether turns arrived in descending sequence order.
func newestFirst(turns []domain.Turn) bool {
	return len(turns) > 1 && turns[0].Sequence > turns[len(turns)-1].Sequence
}

// chronological returns history oldest-first, trimmed to the newest limit
// turns. Stores already return this shape; the check keeps context order
// correct if one does not.
func chronological(turns []domain.Turn, limit int) []domain.Turn {
	if newestFirst(turns) {
		reversed := make([]domain.Turn, len(turns))
		for i, t := range turns {
			reversed[len(turns)-1-i] = t
		}
		turns = reversed
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

package toolloop

import (
	"strings"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/persistence"
	"tenantops/pkg/utils"
)

// seedMessages turns stored conversations (oldest first) plus the new message into a
// user-first, strictly alternating message list. Consecutive turns from one side are joined.
// With a positive budget the oldest history is dropped until it fits; the new message is always kept.
func seedMessages(history []*persistence.Conversation, userMessage string, budget int, counter *utils.TokenCounter) []llm.CompletionMessage {
	if budget > 0 {
		used := 0
		start := len(history)
		for i := len(history) - 1; i >= 0; i-- {
			used += counter.CountTokens(history[i].MessageBody)
			if used > budget {
				break
			}
			start = i
		}
		history = history[start:]
	}

	messages := make([]llm.CompletionMessage, 0, len(history)+1)
	appendTurn := func(role llm.CompletionRole, content string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		if len(messages) == 0 && role != llm.RoleUser {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content += "\n\n" + content
			return
		}
		messages = append(messages, llm.CompletionMessage{Role: role, Content: content})
	}

	for _, c := range history {
		role := llm.RoleUser
		if c.Direction == persistence.DirectionOutbound {
			role = llm.RoleAssistant
		}
		appendTurn(role, c.MessageBody)
	}
	if len(messages) > 0 && messages[len(messages)-1].Role == llm.RoleUser {
		messages[len(messages)-1].Content += "\n\n" + userMessage
	} else {
		messages = append(messages, llm.NewUserMessage(userMessage))
	}
	return messages
}

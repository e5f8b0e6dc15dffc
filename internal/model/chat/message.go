package chat

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryLimit bounds the stored conversation to the most recent turns.
const HistoryLimit = 10

// Turn is one history entry as stored and as sent to the completion backend.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// Window keeps the last limit turns, dropping the oldest first.
func Window(history []Turn, limit int) []Turn {
	if limit < 0 {
		limit = 0
	}
	if len(history) <= limit {
		return history
	}
	return append([]Turn(nil), history[len(history)-limit:]...)
}

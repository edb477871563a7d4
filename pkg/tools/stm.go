package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/asteroniris/asteroniris/pkg/memory"
	"github.com/asteroniris/asteroniris/pkg/session"
)

// oldReplyFormat matches the legacy "[reply to X: quoted]\nrest" shape some
// channels still emit in logged history; replyNormalized re-renders it as
// the current "(replying to X):\n> quoted\nrest" form so history reads
// consistently regardless of which era a message was logged in.
var oldReplyFormat = regexp.MustCompile(`(?s)^\[reply to ([^:\]]+): (.*?)\]\n?(.*)$`)

func normalizeReplyFormat(content string) string {
	if content == "" {
		return content
	}
	m := oldReplyFormat.FindStringSubmatch(content)
	if m == nil {
		return content
	}
	var b strings.Builder
	b.WriteString("(replying to ")
	b.WriteString(m[1])
	b.WriteString("):\n")
	for _, line := range strings.Split(m[2], "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(m[3])
	return b.String()
}

// STMTool provides message history access via SessionManager, falling back
// to long-term memory recall when the in-session log doesn't have enough to
// answer a search. memDB is optional: a nil backend just disables the
// fallback, since not every agent instance is wired to a memory backend.
type STMTool struct {
	sessions *session.SessionManager
	memDB    memory.Backend
	channel  string
	chatID   string
	entityID string
}

func NewSTMTool(sessions *session.SessionManager, memDB memory.Backend) *STMTool {
	return &STMTool{sessions: sessions, memDB: memDB}
}

func (t *STMTool) Name() string {
	return "message_history"
}

func (t *STMTool) Description() string {
	return "Access recent messages from the current session. Actions: 'recent' returns last N messages (default 10, max 50), 'search' performs BM25-ranked search over recent messages. Use 'days' to narrow the time window (default 7, set 1 for last day). Use 'sender_id' to filter by a specific user."
}

func (t *STMTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"recent", "search"},
				"description": "Action to perform: 'recent' for last N messages, 'search' for BM25 search",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query (required for 'search' action)",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max messages to return for 'recent' action (default 10, max 50)",
			},
			"days": map[string]interface{}{
				"type":        "number",
				"description": "Time window in days (default 7, set 1 for last day only)",
			},
			"sender_id": map[string]interface{}{
				"type":        "string",
				"description": "Filter messages by sender ID",
			},
		},
		"required": []string{"action"},
	}
}

func (t *STMTool) SetContext(channel, chatID string) {
	t.channel = channel
	t.chatID = chatID
	t.entityID = fmt.Sprintf("%s:%s", channel, chatID)
}

func (t *STMTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, _ := args["action"].(string)
	sessionKey := fmt.Sprintf("%s:%s", t.channel, t.chatID)

	days := 7
	if d, ok := args["days"].(float64); ok && d > 0 {
		days = int(d)
	}
	senderID, _ := args["sender_id"].(string)

	switch action {
	case "recent":
		limit := 10
		if l, ok := args["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}
		if limit > 50 {
			limit = 50
		}
		entries := t.sessions.RecentLog(sessionKey, limit, days, senderID)
		if len(entries) == 0 {
			return "No recent messages found.", nil
		}
		return formatLogEntries(entries), nil

	case "search":
		query, _ := args["query"].(string)
		if query == "" {
			return "Error: 'query' parameter is required for search action.", nil
		}
		entries := t.sessions.GetLog(sessionKey, days, senderID)
		if len(entries) > 0 {
			// Build docs for BM25
			docs := make([]string, len(entries))
			for i, e := range entries {
				docs[i] = e.Content
			}
			indices := bm25Rank(docs, query, 10)
			if len(indices) > 0 {
				ranked := make([]session.MessageLogEntry, len(indices))
				for i, idx := range indices {
					ranked[i] = entries[idx]
				}
				return formatLogEntries(ranked), nil
			}
		}

		// Nothing in the live session window matched; fall through to the
		// long-term memory backend's hybrid recall, scoped to this
		// channel/chat as the entity, before giving up.
		if recalled := t.recallFromMemory(query); recalled != "" {
			return recalled, nil
		}
		return "No matching messages found.", nil

	default:
		return "Error: action must be 'recent' or 'search'.", nil
	}
}

// recallFromMemory searches the long-term memory backend's retrieval units
// for this tool's entity, returning "" if no backend is wired or nothing
// scores above the noise floor.
func (t *STMTool) recallFromMemory(query string) string {
	return recallFromMemoryBackend(t.memDB, t.entityID, query)
}

// recallFromMemoryBackend is the shared fallback both STMTool and
// SessionMessagesTool reach for once the live session log comes up empty:
// it treats the session key as the memory entity and runs the same hybrid
// recall the agent loop uses for conversational context.
func recallFromMemoryBackend(memDB memory.Backend, entityID, query string) string {
	if memDB == nil {
		return ""
	}
	items, err := memDB.RecallScoped(memory.RecallQuery{
		EntityID: entityID,
		Keywords: query,
		Limit:    10,
	})
	if err != nil || len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(fmt.Sprintf("[memory: %s] %s", it.Unit.SlotKey, it.Unit.Content))
	}
	return b.String()
}

func formatLogEntries(entries []session.MessageLogEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		sender := e.SenderID
		if e.SenderName != "" {
			sender = e.SenderName
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("2006-01-02 15:04"), sender, normalizeReplyFormat(e.Content)))
	}
	return b.String()
}

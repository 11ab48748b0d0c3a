// Package conversations groups raw chat messages into per-conversation views.
package conversations

import (
	"sort"
	"time"

	"github.com/softaidev/assistant-ledger/internal/ledger"
)

// View is one conversation with its messages oldest first.
type View struct {
	ConversationID string               `json:"conversation_id"`
	VisitorName    string               `json:"visitor_name"`
	VisitorEmail   string               `json:"visitor_email,omitempty"`
	LastActivity   time.Time            `json:"last_activity"`
	MessageCount   int                  `json:"message_count"`
	Messages       []ledger.ChatMessage `json:"messages"`
}

// List groups messages by conversation id. Each group is sorted ascending by
// timestamp and the groups are ordered by their latest message, newest first,
// ties broken by conversation id. The input slice is not modified.
func List(messages []ledger.ChatMessage) []View {
	groups := make(map[string][]ledger.ChatMessage)
	for _, msg := range messages {
		groups[msg.ConversationID] = append(groups[msg.ConversationID], msg)
	}

	views := make([]View, 0, len(groups))
	for id, msgs := range groups {
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		})
		v := View{
			ConversationID: id,
			LastActivity:   msgs[len(msgs)-1].Timestamp,
			MessageCount:   len(msgs),
			Messages:       msgs,
		}
		for _, msg := range msgs {
			if v.VisitorName == "" && msg.VisitorName != "" {
				v.VisitorName = msg.VisitorName
			}
			if v.VisitorEmail == "" && msg.VisitorEmail != "" {
				v.VisitorEmail = msg.VisitorEmail
			}
		}
		if v.VisitorName == "" {
			v.VisitorName = anonymousName(id)
		}
		views = append(views, v)
	}

	sort.Slice(views, func(i, j int) bool {
		if !views[i].LastActivity.Equal(views[j].LastActivity) {
			return views[i].LastActivity.After(views[j].LastActivity)
		}
		return views[i].ConversationID < views[j].ConversationID
	})
	return views
}

// anonymousName uses the last four characters, not bytes, of the id.
func anonymousName(conversationID string) string {
	suffix := []rune(conversationID)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Visitor #" + string(suffix)
}

// Package realtime fans chat inserts out to live listeners so clients can
// stop polling a conversation.
package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/softaidev/assistant-ledger/internal/ledger"
)

// SubjectPrefix namespaces chat insert events.
const SubjectPrefix = "ledger.chat."

// Handler receives one inserted message.
type Handler func(msg ledger.ChatMessage)

// Subscription stops delivery when cancelled.
type Subscription interface {
	Unsubscribe() error
}

// Broker publishes chat inserts keyed by conversation.
type Broker interface {
	Publish(ctx context.Context, msg ledger.ChatMessage) error
	Subscribe(conversationID string, fn Handler) (Subscription, error)
	Close()
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

// Subject maps a conversation id onto a single NATS subject token.
func Subject(conversationID string) string {
	return SubjectPrefix + subjectReplacer.Replace(conversationID)
}

// LocalBroker delivers events in-process, synchronously on the publisher's goroutine.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewLocalBroker returns an empty in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[int]Handler)}
}

func (b *LocalBroker) Publish(_ context.Context, msg ledger.ChatMessage) error {
	subject := Subject(msg.ConversationID)
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, fn := range b.subs[subject] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

func (b *LocalBroker) Subscribe(conversationID string, fn Handler) (Subscription, error) {
	subject := Subject(conversationID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	b.subs[subject][id] = fn
	return &localSub{broker: b, subject: subject, id: id}, nil
}

func (b *LocalBroker) Close() {
	b.mu.Lock()
	b.subs = make(map[string]map[int]Handler)
	b.mu.Unlock()
}

func (b *LocalBroker) subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[Subject(conversationID)])
}

type localSub struct {
	broker  *LocalBroker
	subject string
	id      int
}

func (s *localSub) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.subject], s.id)
	if len(s.broker.subs[s.subject]) == 0 {
		delete(s.broker.subs, s.subject)
	}
	return nil
}

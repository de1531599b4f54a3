package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultGreeting opens every room conversation.
const DefaultGreeting = "Register by typing your full name and your current account balance"

const unprocessedReply = "I couldn't process that request"

// Turn is one line of a room's bot conversation.
type Turn struct {
	Role    string
	Content string
}

// Responder returns the raw model output for query given the prior turns.
// The output is expected to be an Extraction encoded as JSON.
type Responder interface {
	Reply(ctx context.Context, room string, history []Turn, query string) (string, error)
}

// Bot extracts banking intents from room messages and acts on them.
type Bot struct {
	name      string
	responder Responder
	registry  *Registry
	limit     int

	mu        sync.Mutex
	histories map[string][]Turn
}

// New creates a bot. limit bounds the history handed to the responder; a nil
// registry gets a fresh in-memory one.
func New(name string, responder Responder, registry *Registry, limit int) *Bot {
	if limit < 1 {
		limit = 1
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Bot{
		name:      name,
		responder: responder,
		registry:  registry,
		limit:     limit,
		histories: make(map[string][]Turn),
	}
}

// Name is the username the bot posts under.
func (b *Bot) Name() string {
	return b.name
}

// Registry exposes the accounts the bot has opened.
func (b *Bot) Registry() *Registry {
	return b.registry
}

// Greet records a greeting the room already received.
func (b *Bot) Greet(room, greeting string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(room, Turn{Role: RoleAssistant, Content: greeting})
}

// Respond answers text from username. Responder failures become the reply
// so the room sees what went wrong.
func (b *Bot) Respond(ctx context.Context, room, username, text string) string {
	b.mu.Lock()
	history := append([]Turn(nil), b.histories[room]...)
	b.appendLocked(room, Turn{Role: RoleUser, Content: text})
	b.mu.Unlock()

	var reply string
	content, err := b.responder.Reply(ctx, room, history, text)
	if err != nil {
		reply = fmt.Sprintf("Error processing request: %v", err)
	} else {
		extraction := ParseExtraction(content)
		log.Printf("[bot] room=%s user=%s action=%s", room, username, extraction.Action)
		reply = b.act(extraction)
	}

	b.mu.Lock()
	b.appendLocked(room, Turn{Role: RoleAssistant, Content: reply})
	b.mu.Unlock()
	return reply
}

// act maps an extraction to the bot's reply. Only registration is served.
func (b *Bot) act(extraction Extraction) string {
	if extraction.Action != ActionRegister || extraction.UserName == "" {
		return unprocessedReply
	}

	account, err := b.registry.Register(extraction.UserName, float64(extraction.Amount))
	if err != nil {
		return fmt.Sprintf("Failed to register user: %v", err)
	}
	return fmt.Sprintf("Successfully registered user %s with IBAN: %s and initial balance: %s",
		account.Name, account.IBAN, strconv.FormatFloat(account.Balance, 'f', -1, 64))
}

// History returns a copy of room's retained turns.
func (b *Bot) History(room string) []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Turn(nil), b.histories[room]...)
}

// Forget drops room's history.
func (b *Bot) Forget(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.histories, room)
}

func (b *Bot) appendLocked(room string, turn Turn) {
	turns := append(b.histories[room], turn)
	if len(turns) > b.limit {
		turns = append([]Turn(nil), turns[len(turns)-b.limit:]...)
	}
	b.histories[room] = turns
}

package realtime

import (
	"sync"
	"time"
)

// DefaultTypingExpiry clears a typing indicator whose owner went quiet without typing_stop.
// Clients send typing_start at most once a second and stop after 3s of silence.
const DefaultTypingExpiry = 6 * time.Second

// TypingExpired describes a typing entry removed without an explicit stop
type TypingExpired struct {
	ConversationID uint
	UserID         uint
	Participants   []uint
}

type typingEntry struct {
	gen          uint64
	timer        *time.Timer
	participants []uint
}

type typingKey struct {
	conversationID uint
	userID         uint
}

// PresenceTracker holds who is typing in which conversation
type PresenceTracker struct {
	mu       sync.Mutex
	expiry   time.Duration
	gen      uint64
	entries  map[typingKey]*typingEntry
	onExpire func(TypingExpired)
}

// NewPresenceTracker creates a tracker. onExpire runs on its own goroutine for entries
// that time out.
func NewPresenceTracker(expiry time.Duration, onExpire func(TypingExpired)) *PresenceTracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &PresenceTracker{
		expiry:   expiry,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
	}
}

// Start marks userID as typing and reports whether they were not typing before.
// Repeated calls only push the expiry back.
func (p *PresenceTracker) Start(conversationID, userID uint, participants []uint) bool {
	key := typingKey{conversationID, userID}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	gen := p.gen
	timer := time.AfterFunc(p.expiry, func() { p.expire(key, gen) })

	if e, ok := p.entries[key]; ok {
		e.timer.Stop()
		e.gen = gen
		e.timer = timer
		e.participants = participants
		return false
	}
	p.entries[key] = &typingEntry{gen: gen, timer: timer, participants: participants}
	return true
}

// Stop clears userID and reports whether they were typing
func (p *PresenceTracker) Stop(conversationID, userID uint) bool {
	key := typingKey{conversationID, userID}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(p.entries, key)
	return true
}

// IsTyping reports whether userID is typing in the conversation
func (p *PresenceTracker) IsTyping(conversationID, userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[typingKey{conversationID, userID}]
	return ok
}

// Typing lists the users typing in a conversation
func (p *PresenceTracker) Typing(conversationID uint) []uint {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []uint
	for k := range p.entries {
		if k.conversationID == conversationID {
			out = append(out, k.userID)
		}
	}
	return out
}

// ClearUser removes every typing entry of userID, used when their connection closes
func (p *PresenceTracker) ClearUser(userID uint) []TypingExpired {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cleared []TypingExpired
	for k, e := range p.entries {
		if k.userID != userID {
			continue
		}
		e.timer.Stop()
		delete(p.entries, k)
		cleared = append(cleared, TypingExpired{ConversationID: k.conversationID, UserID: userID, Participants: e.participants})
	}
	return cleared
}

func (p *PresenceTracker) expire(key typingKey, gen uint64) {
	p.mu.Lock()
	e, ok := p.entries[key]
	// a newer Start or a Stop already replaced this timer
	if !ok || e.gen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	p.mu.Unlock()

	if p.onExpire != nil {
		p.onExpire(TypingExpired{ConversationID: key.conversationID, UserID: key.userID, Participants: e.participants})
	}
}

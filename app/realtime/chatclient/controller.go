// Package chatclient keeps a client's realtime connection alive and turns server frames
// into callbacks scoped to the conversation currently on screen.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/app/realtime"
)

// State is the connection state shown to the user
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultReconnectDelay = 3 * time.Second

	// TypingThrottle spaces outbound typing_start frames
	TypingThrottle = time.Second

	// DefaultTypingIdle sends typing_stop after this much keyboard silence
	DefaultTypingIdle = 3 * time.Second

	// DefaultRemoteTypingTimeout hides a peer's indicator when their stop never arrives
	DefaultRemoteTypingTimeout = 3 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrNoConversation = errors.New("no active conversation")
	ErrTornDown       = errors.New("controller torn down")
)

// Handlers receive events from the read goroutine and from typing timers
type Handlers struct {
	OnStateChange func(State)
	// active reports whether the message belongs to the conversation on screen
	OnNewMessage   func(msg dto.MessageDTO, active bool)
	OnTyping       func(userID uint, typing bool)
	OnMessagesRead func(conversationID, readerID uint)
}

type Options struct {
	ReconnectDelay      time.Duration
	TypingIdle          time.Duration
	RemoteTypingTimeout time.Duration
	Notifier            Notifier
	Logger              *log.Logger
}

type remoteTyping struct {
	seq   uint64
	timer *time.Timer
}

// Controller owns at most one socket at a time. Every socket gets a generation number and
// events from a socket that is no longer current are ignored.
type Controller struct {
	dialer        Dialer
	handlers      Handlers
	notifier      Notifier
	delay         time.Duration
	typingIdleFor time.Duration
	peerTimeout   time.Duration
	logger        *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	emitMu sync.Mutex

	mu        sync.Mutex
	state     State
	stateSeq  uint64
	gen       uint64
	socket    Socket
	reconnect *time.Timer
	tornDown  bool

	// read at event time, never captured at connect time
	userID         uint
	conversationID uint

	typingConv     uint
	lastTypingSent time.Time
	typingIdle     *time.Timer

	peerSeq    uint64
	peerTyping map[uint]*remoteTyping
}

func NewController(dialer Dialer, handlers Handlers, opts Options) *Controller {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.RemoteTypingTimeout <= 0 {
		opts.RemoteTypingTimeout = DefaultRemoteTypingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		dialer:        dialer,
		handlers:      handlers,
		notifier:      opts.Notifier,
		delay:         opts.ReconnectDelay,
		typingIdleFor: opts.TypingIdle,
		peerTimeout:   opts.RemoteTypingTimeout,
		logger:        opts.Logger,
		ctx:           ctx,
		cancel:        cancel,
		peerTyping:    make(map[uint]*remoteTyping),
	}
}

// Start begins connecting. It is a no-op while a connection or reconnect is in progress.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return ErrTornDown
	}
	if c.state != StateDisconnected || c.reconnect != nil {
		c.mu.Unlock()
		return nil
	}
	seq := c.connectLocked()
	c.mu.Unlock()

	c.emitState(seq, StateConnecting)
	return nil
}

// Teardown stops the controller for good: no reconnect fires afterwards, even one
// already scheduled
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.gen++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.typingIdle != nil {
		c.typingIdle.Stop()
		c.typingIdle = nil
	}
	c.clearPeerTypingLocked()
	sock := c.socket
	c.socket = nil
	seq := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.cancel()
	if sock != nil {
		_ = sock.Close()
	}
	c.emitState(seq, StateDisconnected)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetUser sets the identity used to recognise our own messages
func (c *Controller) SetUser(userID uint) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// SetConversation switches the conversation on screen. A typing burst in the previous
// conversation is ended.
func (c *Controller) SetConversation(conversationID uint) {
	c.mu.Lock()
	if c.conversationID == conversationID {
		c.mu.Unlock()
		return
	}
	c.conversationID = conversationID
	c.clearPeerTypingLocked()
	c.mu.Unlock()

	if err := c.StopTyping(context.Background()); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Printf("Failed to end typing on conversation switch: %v", err)
	}
}

// SendMessage sends a chat message to the current conversation. Nothing is queued when
// offline.
func (c *Controller) SendMessage(ctx context.Context, content string) error {
	c.mu.Lock()
	conv, user := c.conversationID, c.userID
	if conv != 0 && c.typingConv == conv {
		c.typingConv = 0
		if c.typingIdle != nil {
			c.typingIdle.Stop()
			c.typingIdle = nil
		}
	}
	c.mu.Unlock()

	if conv == 0 {
		return ErrNoConversation
	}
	return c.send(ctx, realtime.InboundFrame{
		Type:           realtime.TypeChatMessage,
		ConversationID: conv,
		SenderID:       user,
		Content:        content,
	})
}

// NotifyTyping is called on every keystroke. It sends typing_start at most once per
// TypingThrottle and typing_stop after the idle period.
func (c *Controller) NotifyTyping(ctx context.Context) error {
	c.mu.Lock()
	conv := c.conversationID
	if conv == 0 {
		c.mu.Unlock()
		return ErrNoConversation
	}
	now := time.Now()
	due := c.typingConv != conv || now.Sub(c.lastTypingSent) >= TypingThrottle
	if due {
		c.typingConv = conv
		c.lastTypingSent = now
	}
	if c.typingIdle != nil {
		c.typingIdle.Stop()
	}
	c.typingIdle = time.AfterFunc(c.typingIdleFor, func() {
		if err := c.StopTyping(context.Background()); err != nil && !errors.Is(err, ErrNotConnected) {
			c.logger.Printf("Failed to send typing stop: %v", err)
		}
	})
	c.mu.Unlock()

	if !due {
		return nil
	}
	return c.send(ctx, realtime.InboundFrame{Type: realtime.TypeTypingStart, ConversationID: conv})
}

// StopTyping ends the current typing burst, if any
func (c *Controller) StopTyping(ctx context.Context) error {
	c.mu.Lock()
	conv := c.typingConv
	c.typingConv = 0
	if c.typingIdle != nil {
		c.typingIdle.Stop()
		c.typingIdle = nil
	}
	c.mu.Unlock()

	if conv == 0 {
		return nil
	}
	return c.send(ctx, realtime.InboundFrame{Type: realtime.TypeTypingStop, ConversationID: conv})
}

// MarkRead marks the current conversation read for the current user
func (c *Controller) MarkRead(ctx context.Context) error {
	c.mu.Lock()
	conv, user := c.conversationID, c.userID
	c.mu.Unlock()

	if conv == 0 {
		return ErrNoConversation
	}
	return c.send(ctx, realtime.InboundFrame{Type: realtime.TypeMarkRead, ConversationID: conv, UserID: user})
}

func (c *Controller) send(ctx context.Context, f realtime.InboundFrame) error {
	c.mu.Lock()
	sock, state := c.socket, c.state
	c.mu.Unlock()

	if sock == nil || state != StateConnected {
		return ErrNotConnected
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return sock.Write(ctx, data)
}

// connectLocked starts a dial for a new generation
func (c *Controller) connectLocked() uint64 {
	c.gen++
	gen := c.gen
	seq := c.setStateLocked(StateConnecting)
	go c.dial(gen)
	return seq
}

func (c *Controller) dial(gen uint64) {
	sock, err := c.dialer.Dial(c.ctx)

	c.mu.Lock()
	if c.tornDown || gen != c.gen {
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	if err != nil {
		seq := c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()

		c.logger.Printf("Realtime connect failed: %v", err)
		c.emitState(seq, StateDisconnected)
		return
	}
	c.socket = sock
	seq := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.emitState(seq, StateConnected)
	c.readLoop(gen, sock)
}

func (c *Controller) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.Read(c.ctx)
		if err != nil {
			c.lost(gen, sock, err)
			return
		}
		c.dispatch(gen, data)
	}
}

// lost handles an error or close of sock. Stale sockets are ignored.
func (c *Controller) lost(gen uint64, sock Socket, err error) {
	c.mu.Lock()
	if c.tornDown || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.socket = nil
	c.clearPeerTypingLocked()
	seq := c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Printf("Realtime connection lost: %v", err)
	_ = sock.Close()
	c.emitState(seq, StateDisconnected)
}

// scheduleReconnectLocked arms the single reconnect timer
func (c *Controller) scheduleReconnectLocked() {
	if c.tornDown || c.reconnect != nil {
		return
	}
	c.reconnect = time.AfterFunc(c.delay, c.reconnectFired)
}

func (c *Controller) reconnectFired() {
	c.mu.Lock()
	c.reconnect = nil
	if c.tornDown || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	seq := c.connectLocked()
	c.mu.Unlock()

	c.emitState(seq, StateConnecting)
}

func (c *Controller) dispatch(gen uint64, data []byte) {
	var f realtime.OutboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Printf("Dropping unreadable frame: %v", err)
		return
	}

	c.mu.Lock()
	if c.tornDown || gen != c.gen {
		c.mu.Unlock()
		return
	}
	user, conv := c.userID, c.conversationID
	c.mu.Unlock()

	switch f.Type {
	case realtime.TypeNewMessage:
		if f.Message == nil {
			return
		}
		if f.Message.SenderID != user && c.notifier != nil {
			c.notifier.Notify()
		}
		if c.handlers.OnNewMessage != nil {
			c.handlers.OnNewMessage(*f.Message, f.Message.ConversationID == conv)
		}
	case realtime.TypeUserTyping:
		if f.ConversationID != conv || f.UserID == user {
			return
		}
		c.peerStartedTyping(gen, conv, f.UserID)
	case realtime.TypeUserStopTyping:
		if f.ConversationID != conv {
			return
		}
		c.peerStoppedTyping(f.UserID)
	case realtime.TypeMessagesRead:
		if f.ConversationID == conv && c.handlers.OnMessagesRead != nil {
			c.handlers.OnMessagesRead(f.ConversationID, f.UserID)
		}
	default:
		c.logger.Printf("Ignoring frame type %q", f.Type)
	}
}

func (c *Controller) peerStartedTyping(gen uint64, conv, userID uint) {
	c.mu.Lock()
	c.peerSeq++
	seq := c.peerSeq
	entry, already := c.peerTyping[userID]
	if already {
		entry.timer.Stop()
	} else {
		entry = &remoteTyping{}
		c.peerTyping[userID] = entry
	}
	entry.seq = seq
	entry.timer = time.AfterFunc(c.peerTimeout, func() { c.peerTypingExpired(gen, conv, userID, seq) })
	c.mu.Unlock()

	if !already && c.handlers.OnTyping != nil {
		c.handlers.OnTyping(userID, true)
	}
}

func (c *Controller) peerStoppedTyping(userID uint) {
	c.mu.Lock()
	entry, ok := c.peerTyping[userID]
	if ok {
		entry.timer.Stop()
		delete(c.peerTyping, userID)
	}
	c.mu.Unlock()

	if ok && c.handlers.OnTyping != nil {
		c.handlers.OnTyping(userID, false)
	}
}

func (c *Controller) peerTypingExpired(gen uint64, conv, userID uint, seq uint64) {
	c.mu.Lock()
	entry, ok := c.peerTyping[userID]
	if c.tornDown || gen != c.gen || conv != c.conversationID || !ok || entry.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.peerTyping, userID)
	c.mu.Unlock()

	if c.handlers.OnTyping != nil {
		c.handlers.OnTyping(userID, false)
	}
}

func (c *Controller) clearPeerTypingLocked() {
	for id, entry := range c.peerTyping {
		entry.timer.Stop()
		delete(c.peerTyping, id)
	}
}

// setStateLocked returns the transition's sequence number, 0 when nothing changed
func (c *Controller) setStateLocked(s State) uint64 {
	if c.state == s {
		return 0
	}
	c.state = s
	c.stateSeq++
	return c.stateSeq
}

// emitState reports a transition unless a newer one already happened, so listeners
// never end on a stale state
func (c *Controller) emitState(seq uint64, s State) {
	if seq == 0 || c.handlers.OnStateChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	latest := c.stateSeq == seq
	c.mu.Unlock()
	if latest {
		c.handlers.OnStateChange(s)
	}
}

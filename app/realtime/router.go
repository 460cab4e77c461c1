package realtime

import (
	"context"
	"log"
	"time"

	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultFrameTimeout = 10 * time.Second

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_frames_total",
		Help: "Inbound realtime frames by type and outcome",
	}, []string{"type", "outcome"})

	droppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_sends_total",
		Help: "Outbound frames dropped because the recipient buffer was full or closed",
	})
)

// MessageRouter applies inbound frames and fans the resulting events out to live participants
type MessageRouter struct {
	flow     businessflow.ConversationFlow
	registry *Registry
	presence *PresenceTracker
	decoder  *FrameDecoder
	timeout  time.Duration
	logger   *log.Logger
}

// NewMessageRouter wires a router to its registry. typingExpiry <= 0 uses DefaultTypingExpiry.
func NewMessageRouter(flow businessflow.ConversationFlow, registry *Registry, typingExpiry time.Duration, logger *log.Logger) *MessageRouter {
	if logger == nil {
		logger = log.Default()
	}
	r := &MessageRouter{
		flow:     flow,
		registry: registry,
		decoder:  NewFrameDecoder(),
		timeout:  defaultFrameTimeout,
		logger:   logger,
	}
	r.presence = NewPresenceTracker(typingExpiry, r.typingExpired)
	return r
}

// Presence exposes the typing tracker
func (r *MessageRouter) Presence() *PresenceTracker {
	return r.presence
}

// HandleFrame processes one frame from userID. Bad frames are logged and dropped,
// the caller keeps the connection open regardless of the outcome.
func (r *MessageRouter) HandleFrame(ctx context.Context, userID uint, data []byte) {
	frame, err := r.decoder.Decode(data)
	if err != nil {
		framesTotal.WithLabelValues("unknown", "malformed").Inc()
		r.logger.Printf("Dropping frame from user %d: %v", userID, err)
		return
	}

	// persistence must not be cut short by the client going away mid-frame
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	switch frame.Type {
	case TypeChatMessage:
		err = r.chatMessage(ctx, userID, frame)
	case TypeTypingStart:
		err = r.typingStart(ctx, userID, frame)
	case TypeTypingStop:
		err = r.typingStop(ctx, userID, frame)
	case TypeMarkRead:
		err = r.markRead(ctx, userID, frame)
	}
	if err != nil {
		outcome := "rejected"
		if businessflow.IsSenderMismatch(err) || businessflow.IsConversationAccessDenied(err) {
			outcome = "forbidden"
		}
		framesTotal.WithLabelValues(frame.Type, outcome).Inc()
		r.logger.Printf("Dropping %s frame from user %d for conversation %d: %v", frame.Type, userID, frame.ConversationID, err)
		return
	}
	framesTotal.WithLabelValues(frame.Type, "handled").Inc()
}

func (r *MessageRouter) chatMessage(ctx context.Context, userID uint, f InboundFrame) error {
	if f.SenderID != userID {
		return businessflow.ErrSenderMismatch
	}
	msg, conv, err := r.flow.SendMessage(ctx, userID, f.ConversationID, f.Content)
	if err != nil {
		return err
	}

	// sending ends the sender's typing burst
	if r.presence.Stop(conv.ID, userID) {
		r.fanOut(conv.Participants(), userID, OutboundFrame{Type: TypeUserStopTyping, ConversationID: conv.ID, UserID: userID})
	}

	view := businessflow.ToMessageDTO(msg)
	r.fanOut(conv.Participants(), 0, OutboundFrame{Type: TypeNewMessage, ConversationID: conv.ID, Message: &view})
	return nil
}

func (r *MessageRouter) typingStart(ctx context.Context, userID uint, f InboundFrame) error {
	conv, err := r.flow.Get(ctx, userID, f.ConversationID)
	if err != nil {
		return err
	}
	if r.presence.Start(conv.ID, userID, conv.Participants()) {
		r.fanOut(conv.Participants(), userID, OutboundFrame{Type: TypeUserTyping, ConversationID: conv.ID, UserID: userID})
	}
	return nil
}

func (r *MessageRouter) typingStop(ctx context.Context, userID uint, f InboundFrame) error {
	conv, err := r.flow.Get(ctx, userID, f.ConversationID)
	if err != nil {
		return err
	}
	if r.presence.Stop(conv.ID, userID) {
		r.fanOut(conv.Participants(), userID, OutboundFrame{Type: TypeUserStopTyping, ConversationID: conv.ID, UserID: userID})
	}
	return nil
}

func (r *MessageRouter) markRead(ctx context.Context, userID uint, f InboundFrame) error {
	if f.UserID != userID {
		return businessflow.ErrSenderMismatch
	}
	conv, _, err := r.flow.MarkRead(ctx, userID, f.ConversationID)
	if err != nil {
		return err
	}
	r.fanOut(conv.Participants(), 0, OutboundFrame{Type: TypeMessagesRead, ConversationID: conv.ID, UserID: userID})
	return nil
}

// Disconnected clears the user's typing state and tells their peers
func (r *MessageRouter) Disconnected(userID uint) {
	for _, t := range r.presence.ClearUser(userID) {
		r.typingExpired(t)
	}
}

func (r *MessageRouter) typingExpired(t TypingExpired) {
	r.fanOut(t.Participants, t.UserID, OutboundFrame{Type: TypeUserStopTyping, ConversationID: t.ConversationID, UserID: t.UserID})
}

// fanOut delivers f to every live recipient except skip. Offline users and full buffers
// never affect the other recipients.
func (r *MessageRouter) fanOut(recipients []uint, skip uint, f OutboundFrame) {
	for _, id := range recipients {
		if id == skip {
			continue
		}
		conn, ok := r.registry.Lookup(id)
		if !ok {
			continue
		}
		if !conn.Send(f) {
			droppedSends.Inc()
			r.logger.Printf("Dropped %s frame for user %d", f.Type, id)
		}
	}
}

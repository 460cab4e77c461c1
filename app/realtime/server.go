package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/Kakehashi/app/services"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StatusSuperseded closes a connection replaced by a newer one of the same user
const StatusSuperseded websocket.StatusCode = 4000

// Options tunes accepted connections
type Options struct {
	AllowedOrigins     []string
	InsecureSkipVerify bool
	SendBuffer         int
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadLimit          int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 * 1024
	}
	return o
}

// Server upgrades authenticated requests to websocket connections
type Server struct {
	tokens   services.TokenService
	router   *MessageRouter
	registry *Registry
	opts     Options
	logger   *log.Logger
}

func NewServer(tokens services.TokenService, router *MessageRouter, registry *Registry, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		tokens:   tokens,
		router:   router,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// authenticate reads the token from ?token= (browsers cannot set headers on websocket
// requests) or from a bearer Authorization header
func (s *Server) authenticate(r *http.Request) (uint, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if t, ok := services.BearerToken(r.Header.Get("Authorization")); ok {
			token = t
		}
	}
	if token == "" {
		return 0, services.ErrTokenInvalid
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.opts.AllowedOrigins,
		InsecureSkipVerify: s.opts.InsecureSkipVerify,
	})
	if err != nil {
		// Accept already wrote the response
		s.logger.Printf("Websocket accept failed for user %d: %v", userID, err)
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	c := newClient(userID, ws, s.opts, s.logger)
	s.registry.Register(c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writeLoop() }()
	go func() { defer wg.Done(); c.keepAliveLoop() }()

	s.readLoop(c)

	if s.registry.Unregister(c) {
		s.router.Disconnected(userID)
	}
	c.Close("")
	wg.Wait()
}

func (s *Server) readLoop(c *client) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Printf("Read from user %d failed: %v", c.userID, err)
			}
			return
		}
		if typ != websocket.MessageText {
			s.logger.Printf("Ignoring binary frame from user %d", c.userID)
			continue
		}
		s.router.HandleFrame(c.ctx, c.userID, data)
	}
}

// Shutdown closes every live connection
func (s *Server) Shutdown() {
	s.registry.CloseAll(reasonShutdown)
}

type client struct {
	userID uint
	conn   *websocket.Conn
	send   chan OutboundFrame
	opts   Options
	logger *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(userID uint, conn *websocket.Conn, opts Options, logger *log.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		userID: userID,
		conn:   conn,
		send:   make(chan OutboundFrame, opts.SendBuffer),
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *client) UserID() uint { return c.userID }

func (c *client) Send(f OutboundFrame) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Close is idempotent and does not wait for the close handshake. The send channel is
// never closed so late Sends stay safe.
func (c *client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		go func() {
			_ = c.conn.Close(closeStatus(reason), reason)
			c.cancel()
		}()
	})
}

func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case "":
		return websocket.StatusNormalClosure
	case reasonSuperseded:
		return StatusSuperseded
	default:
		return websocket.StatusGoingAway
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := wsjson.Write(ctx, c.conn, f)
			cancel()
			if err != nil {
				c.logger.Printf("Write to user %d failed: %v", c.userID, err)
				c.Close("write failed")
				return
			}
		}
	}
}

func (c *client) keepAliveLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.Close("ping failed")
				return
			}
		}
	}
}

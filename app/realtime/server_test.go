package realtime

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/app/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type liveServer struct {
	*routerFixture
	httpServer *httptest.Server
	tokens     services.TokenService
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	f := newRouterFixture(t, time.Minute)
	// the fixture's recording conns are replaced by real sockets
	f.registry.Unregister(f.creator)
	f.registry.Unregister(f.company)

	tokens, err := services.NewTokenService(time.Hour, "kakehashi", "kakehashi-api", false, "", "", "realtime-test-secret-with-enough-bytes")
	require.NoError(t, err)

	srv := NewServer(tokens, f.router, f.registry, Options{InsecureSkipVerify: true, PingInterval: time.Second}, log.New(io.Discard, "", 0))
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return &liveServer{routerFixture: f, httpServer: hs, tokens: tokens}
}

func (s *liveServer) dial(t *testing.T, userID uint) *websocket.Conn {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken(userID, services.RoleCreator)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool {
		c, ok := s.registry.Lookup(userID)
		return ok && c != nil
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutboundFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var f OutboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func TestServerRejectsMissingToken(t *testing.T) {
	s := newLiveServer(t)

	resp, err := http.Get(s.httpServer.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err = websocket.Dial(ctx, "ws"+strings.TrimPrefix(s.httpServer.URL, "http")+"/ws?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerChatRoundTrip(t *testing.T) {
	s := newLiveServer(t)
	creator := s.dial(t, testCreatorID)
	company := s.dial(t, testCompanyID)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, creator, map[string]any{
		"type": TypeChatMessage, "conversationId": s.conv.ID, "senderId": testCreatorID, "content": "hello company",
	}))

	got := readFrame(t, company)
	assert.Equal(t, TypeNewMessage, got.Type)
	require.NotNil(t, got.Message)
	assert.Equal(t, "hello company", got.Message.Content)

	echo := readFrame(t, creator)
	assert.Equal(t, TypeNewMessage, echo.Type)
	assert.Equal(t, got.Message.ID, echo.Message.ID)

	// a bad frame does not cost the connection
	require.NoError(t, creator.Write(ctx, websocket.MessageText, []byte("garbage")))
	require.NoError(t, wsjson.Write(ctx, creator, map[string]any{"type": TypeTypingStart, "conversationId": s.conv.ID}))
	assert.Equal(t, TypeUserTyping, readFrame(t, company).Type)
	require.NoError(t, wsjson.Write(ctx, creator, map[string]any{"type": TypeTypingStop, "conversationId": s.conv.ID}))
	assert.Equal(t, TypeUserStopTyping, readFrame(t, company).Type)

	require.NoError(t, wsjson.Write(ctx, company, map[string]any{"type": TypeMarkRead, "conversationId": s.conv.ID, "userId": testCompanyID}))
	read := readFrame(t, creator)
	assert.Equal(t, TypeMessagesRead, read.Type)
	assert.Equal(t, testCompanyID, read.UserID)

	page, err := s.flow.History(ctx, testCreatorID, s.conv.ID, dto.ListMessagesRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsRead)
}

func TestServerSupersedesOlderConnection(t *testing.T) {
	s := newLiveServer(t)
	first := s.dial(t, testCreatorID)
	firstConn, _ := s.registry.Lookup(testCreatorID)

	second := s.dial(t, testCreatorID)
	require.Eventually(t, func() bool {
		c, ok := s.registry.Lookup(testCreatorID)
		return ok && c != firstConn
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusSuperseded, websocket.CloseStatus(err))

	// the old handler has unwound without evicting the new connection
	time.Sleep(50 * time.Millisecond)
	current, ok := s.registry.Lookup(testCreatorID)
	require.True(t, ok)
	assert.NotSame(t, firstConn, current)
	assert.Equal(t, 1, s.registry.Count())

	company := s.dial(t, testCompanyID)
	require.NoError(t, wsjson.Write(context.Background(), company, map[string]any{
		"type": TypeChatMessage, "conversationId": s.conv.ID, "senderId": testCompanyID, "content": "still there?",
	}))
	assert.Equal(t, "still there?", readFrame(t, second).Message.Content)
}

func TestServerDisconnectUnregisters(t *testing.T) {
	s := newLiveServer(t)
	conn := s.dial(t, testCompanyID)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		_, ok := s.registry.Lookup(testCompanyID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

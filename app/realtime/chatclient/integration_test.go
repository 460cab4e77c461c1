package chatclient

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/app/realtime"
	"github.com/amirphl/Kakehashi/app/services"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllersTalkThroughServer(t *testing.T) {
	const companyID, creatorID = uint(11), uint(22)
	quiet := log.New(io.Discard, "", 0)

	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())
	offer, err := fx.CreateTestOffer(companyID, "https://shop.example")
	require.NoError(t, err)
	app, err := fx.CreateApprovedApplication(offer, creatorID, "Live000001")
	require.NoError(t, err)
	conv, err := fx.CreateTestConversation(app, offer)
	require.NoError(t, err)

	flow := businessflow.NewConversationFlow(mem.Conversations, mem.Messages, mem.Applications, mem.Offers, nil)
	registry := realtime.NewRegistry()
	tokens, err := services.NewTokenService(time.Hour, "kakehashi", "kakehashi-api", false, "", "", "chatclient-test-secret-with-enough-bytes")
	require.NoError(t, err)
	srv := realtime.NewServer(tokens, realtime.NewMessageRouter(flow, registry, time.Minute, quiet), registry,
		realtime.Options{InsecureSkipVerify: true}, quiet)
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})

	connect := func(userID uint, role string, events *eventLog, notifier Notifier) *Controller {
		token, err := tokens.GenerateAccessToken(userID, role)
		require.NoError(t, err)
		d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws", Token: token}
		c := newTestController(t, d, events, notifier)
		c.SetUser(userID)
		c.SetConversation(conv.ID)
		require.NoError(t, c.Start())
		waitState(t, c, StateConnected)
		require.Eventually(t, func() bool {
			_, ok := registry.Lookup(userID)
			return ok
		}, 2*time.Second, 5*time.Millisecond)
		return c
	}

	creatorEvents, companyEvents := &eventLog{}, &eventLog{}
	companyBell := &countingNotifier{}
	creator := connect(creatorID, services.RoleCreator, creatorEvents, nil)
	connect(companyID, services.RoleCompany, companyEvents, companyBell)

	require.NoError(t, creator.NotifyTyping(context.Background()))
	require.Eventually(t, func() bool { return len(companyEvents.snapshot().typing) >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, companyEvents.snapshot().typing[0])

	require.NoError(t, creator.SendMessage(context.Background(), "hello from the creator"))
	require.Eventually(t, func() bool {
		return len(companyEvents.snapshot().messages) == 1 && len(creatorEvents.snapshot().messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	got := companyEvents.snapshot()
	assert.Equal(t, "hello from the creator", got.messages[0].Content)
	assert.Equal(t, []bool{true}, got.active)
	assert.Equal(t, 1, companyBell.Count())
	require.Eventually(t, func() bool {
		typing := companyEvents.snapshot().typing
		return len(typing) == 2 && !typing[1]
	}, 2*time.Second, 5*time.Millisecond, "sending ends the typing indicator")

	require.NoError(t, creator.MarkRead(context.Background()))
	require.Eventually(t, func() bool { return len(companyEvents.snapshot().reads) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint{creatorID}, companyEvents.snapshot().reads)
}

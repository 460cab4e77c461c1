package businessflow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/models"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationFlow(t *testing.T) {
	ctx := context.Background()
	const companyID, creatorID, strangerID = uint(100), uint(200), uint(300)

	setup := func(t *testing.T) (*testutil.MemoryRepositories, *models.Application, ConversationFlow) {
		mem := testutil.NewMemoryRepositories()
		fx := testutil.NewTestFixtures(mem.Repositories())
		offer, err := fx.CreateTestOffer(companyID, "https://shop.example")
		require.NoError(t, err)
		app, err := fx.CreatePendingApplication(offer, creatorID, nil)
		require.NoError(t, err)
		flow := NewConversationFlow(mem.Conversations, mem.Messages, mem.Applications, mem.Offers, nil)
		return mem, app, flow
	}

	t.Run("start is idempotent per application", func(t *testing.T) {
		mem, app, flow := setup(t)

		first, err := flow.Start(ctx, creatorID, app.ID)
		require.NoError(t, err)
		second, err := flow.Start(ctx, companyID, app.ID)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, creatorID, first.CreatorID)
		assert.Equal(t, companyID, first.CompanyID)
		assert.Equal(t, 1, mem.Conversations.Len())
	})

	t.Run("strangers cannot start or read", func(t *testing.T) {
		_, app, flow := setup(t)

		_, err := flow.Start(ctx, strangerID, app.ID)
		assert.True(t, IsApplicationAccessDenied(err))

		conv, err := flow.Start(ctx, creatorID, app.ID)
		require.NoError(t, err)
		_, err = flow.History(ctx, strangerID, conv.ID, dto.ListMessagesRequest{})
		assert.True(t, IsConversationAccessDenied(err))
		_, _, err = flow.SendMessage(ctx, strangerID, conv.ID, "hi")
		assert.True(t, IsConversationAccessDenied(err))
	})

	t.Run("send bumps the recipient's unread counter", func(t *testing.T) {
		mem, app, flow := setup(t)
		conv, err := flow.Start(ctx, creatorID, app.ID)
		require.NoError(t, err)

		msg, updated, err := flow.SendMessage(ctx, creatorID, conv.ID, "  hello there  ")
		require.NoError(t, err)
		assert.Equal(t, "hello there", msg.Content)
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.IsRead)
		assert.Equal(t, 1, updated.CompanyUnreadCount)
		assert.Equal(t, 0, updated.CreatorUnreadCount)

		stored, err := mem.Conversations.ByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.CompanyUnreadCount)
		require.NotNil(t, stored.LastMessageAt)
		assert.True(t, stored.LastMessageAt.Equal(msg.CreatedAt))

		view, err := flow.Start(ctx, companyID, app.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, view.UnreadCount)
	})

	t.Run("content validation", func(t *testing.T) {
		_, app, flow := setup(t)
		conv, err := flow.Start(ctx, creatorID, app.ID)
		require.NoError(t, err)

		_, _, err = flow.SendMessage(ctx, creatorID, conv.ID, "   ")
		assert.True(t, IsEmptyMessage(err))
		_, _, err = flow.SendMessage(ctx, creatorID, conv.ID, strings.Repeat("あ", MaxMessageLength+1))
		assert.True(t, IsMessageTooLong(err))
		_, _, err = flow.SendMessage(ctx, creatorID, conv.ID, strings.Repeat("あ", MaxMessageLength))
		assert.NoError(t, err)
	})

	t.Run("mark read flips only the other side's messages", func(t *testing.T) {
		mem, app, flow := setup(t)
		conv, err := flow.Start(ctx, creatorID, app.ID)
		require.NoError(t, err)

		_, _, err = flow.SendMessage(ctx, creatorID, conv.ID, "from creator")
		require.NoError(t, err)
		_, _, err = flow.SendMessage(ctx, companyID, conv.ID, "from company 1")
		require.NoError(t, err)
		_, _, err = flow.SendMessage(ctx, companyID, conv.ID, "from company 2")
		require.NoError(t, err)

		updated, flipped, err := flow.MarkRead(ctx, creatorID, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), flipped)
		assert.Equal(t, 0, updated.CreatorUnreadCount)
		assert.Equal(t, 1, updated.CompanyUnreadCount)

		unread := false
		left, err := mem.Messages.Count(ctx, models.MessageFilter{ConversationID: &conv.ID, IsRead: &unread})
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)

		_, flipped, err = flow.MarkRead(ctx, creatorID, conv.ID)
		require.NoError(t, err)
		assert.Zero(t, flipped)
	})

	t.Run("history pages backwards in ascending order", func(t *testing.T) {
		_, app, flow := setup(t)
		conv, err := flow.Start(ctx, creatorID, app.ID)
		require.NoError(t, err)
		for i := 1; i <= 5; i++ {
			_, _, err := flow.SendMessage(ctx, creatorID, conv.ID, fmt.Sprintf("m%d", i))
			require.NoError(t, err)
		}

		page, err := flow.History(ctx, companyID, conv.ID, dto.ListMessagesRequest{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		assert.Equal(t, "m4", page.Messages[0].Content)
		assert.Equal(t, "m5", page.Messages[1].Content)
		assert.True(t, page.HasMore)

		older, err := flow.History(ctx, companyID, conv.ID, dto.ListMessagesRequest{BeforeID: page.Messages[0].ID, Limit: 10})
		require.NoError(t, err)
		require.Len(t, older.Messages, 3)
		assert.Equal(t, "m1", older.Messages[0].Content)
		assert.False(t, older.HasMore)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, _, flow := setup(t)
		_, err := flow.Get(ctx, creatorID, 999)
		assert.True(t, IsConversationNotFound(err))
	})
}

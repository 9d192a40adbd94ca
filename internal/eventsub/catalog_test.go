package eventsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/OikoumE/twitchwrapper/internal/errors"
)

func TestCondition_ShapePerCategoryGroup(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		want     map[string]string
	}{
		{
			name:     "raid targets the broadcaster as destination",
			category: ChannelRaid,
			want:     map[string]string{"to_broadcaster_user_id": "123"},
		},
		{
			name:     "follow pairs broadcaster with moderator",
			category: ChannelFollow,
			want:     map[string]string{"broadcaster_user_id": "123", "moderator_user_id": "123"},
		},
		{
			name:     "unban request pairs broadcaster with moderator",
			category: ChannelUnbanRequestCreate,
			want:     map[string]string{"broadcaster_user_id": "123", "moderator_user_id": "123"},
		},
		{
			name:     "custom reward redemption uses broadcaster alone",
			category: ChannelPointsCustomRewardRedemptionAdd,
			want:     map[string]string{"broadcaster_user_id": "123"},
		},
		{
			name:     "chat message pairs broadcaster with user",
			category: ChannelChatMessage,
			want:     map[string]string{"broadcaster_user_id": "123", "user_id": "123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Condition(tt.category, "123"))
		})
	}
}

func TestCondition_IsPure(t *testing.T) {
	first := Condition(ChannelChatMessage, "42")
	first["broadcaster_user_id"] = "mutated"

	second := Condition(ChannelChatMessage, "42")
	assert.Equal(t, "42", second["broadcaster_user_id"])
}

func TestScopesFor_DeduplicatesAndKeepsBaseline(t *testing.T) {
	scopes := ScopesFor([]Category{ChannelPollBegin, ChannelPollEnd, ChannelFollow})

	assert.Equal(t, []string{
		"user:write:chat",
		"channel:manage:polls",
		"moderator:read:followers",
	}, scopes)
}

func TestScopesFor_EmptyStillRequestsBaseline(t *testing.T) {
	assert.Equal(t, []string{"user:write:chat"}, ScopesFor(nil))
}

func TestCategoryForType_RoundTripsEveryCategory(t *testing.T) {
	for c := range catalog {
		got, err := CategoryForType(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestCategoryForType_UnknownTypeFailsLoudly(t *testing.T) {
	_, err := CategoryForType("channel.made_up.event")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeProtocol))
}

func TestNewSubscriptionRequest(t *testing.T) {
	req := NewSubscriptionRequest(ChannelFollow, "123", "abc123")

	assert.Equal(t, "channel.follow", req.Type)
	assert.Equal(t, "2", req.Version)
	assert.Equal(t, "websocket", req.Transport.Method)
	assert.Equal(t, "abc123", req.Transport.SessionID)
	assert.Equal(t, map[string]string{"broadcaster_user_id": "123", "moderator_user_id": "123"}, req.Condition)
}

package eventsub

import (
	"fmt"

	apperrors "github.com/OikoumE/twitchwrapper/internal/errors"
)

// Category identifies one subscribable kind of server-pushed event. The
// set is closed: every category maps to exactly one EventSub type name,
// API version, and OAuth scope.
type Category int

const (
	AutomodMessageHold Category = iota
	AutomodMessageUpdate
	AutomodSettingsUpdate
	AutomodTermsUpdate
	ChannelBitsUse
	ChannelUpdate
	ChannelFollow
	ChannelAdBreakBegin
	ChannelChatClear
	ChannelChatClearUserMessages
	ChannelChatMessage
	ChannelChatMessageDelete
	ChannelChatNotification
	ChannelChatSettingsUpdate
	ChannelChatUserMessageHold
	ChannelChatUserMessageUpdate
	ChannelSharedChatBegin
	ChannelSharedChatUpdate
	ChannelSharedChatEnd
	ChannelSubscribe
	ChannelSubscriptionEnd
	ChannelSubscriptionGift
	ChannelSubscriptionMessage
	ChannelCheer
	ChannelRaid
	ChannelBan
	ChannelUnban
	ChannelUnbanRequestCreate
	ChannelUnbanRequestResolve
	ChannelModerate
	ChannelModeratorAdd
	ChannelModeratorRemove
	ChannelGuestStarSessionBegin
	ChannelGuestStarSessionEnd
	ChannelGuestStarGuestUpdate
	ChannelGuestStarSettingsUpdate
	ChannelPointsAutomaticRewardRedemptionAdd
	ChannelPointsCustomRewardAdd
	ChannelPointsCustomRewardUpdate
	ChannelPointsCustomRewardRemove
	ChannelPointsCustomRewardRedemptionAdd
	ChannelPointsCustomRewardRedemptionUpdate
	ChannelPollBegin
	ChannelPollProgress
	ChannelPollEnd
	ChannelPredictionBegin
	ChannelPredictionProgress
	ChannelPredictionLock
	ChannelPredictionEnd
	ChannelSuspiciousUserMessage
	ChannelSuspiciousUserUpdate
	ChannelVipAdd
	ChannelVipRemove
	ChannelWarningAcknowledge
	ChannelWarningSend
	ChannelCharityCampaignDonate
	ChannelCharityCampaignStart
	ChannelCharityCampaignProgress
	ChannelCharityCampaignStop
	ExtensionBitsTransactionCreate
	ChannelGoalBegin
	ChannelGoalProgress
	ChannelGoalEnd
	ChannelHypeTrainBegin
	ChannelHypeTrainProgress
	ChannelHypeTrainEnd
	ChannelShieldModeBegin
	ChannelShieldModeEnd
	ChannelShoutoutCreate
	ChannelShoutoutReceive
	StreamOnline
	StreamOffline
	UserWhisperMessage
)

// baselineScope is always requested so the client can talk back in chat,
// independent of which categories the caller subscribes to.
const baselineScope = "user:write:chat"

type descriptor struct {
	wireType string
	version  string
	scope    string
}

var catalog = map[Category]descriptor{
	AutomodMessageHold:             {"automod.message.hold", "2", "moderator:manage:automod"},
	AutomodMessageUpdate:           {"automod.message.update", "2", "moderator:manage:automod"},
	AutomodSettingsUpdate:          {"automod.settings.update", "1", "moderator:manage:automod_settings"},
	AutomodTermsUpdate:             {"automod.terms.update", "1", "moderator:manage:automod_settings"},
	ChannelBitsUse:                 {"channel.bits.use", "1", "bits:read"},
	ChannelUpdate:                  {"channel.update", "2", "channel:manage:broadcast"},
	ChannelFollow:                  {"channel.follow", "2", "moderator:read:followers"},
	ChannelAdBreakBegin:            {"channel.ad_break.begin", "1", "channel:read:ads"},
	ChannelChatClear:               {"channel.chat.clear", "1", "channel:moderate"},
	ChannelChatClearUserMessages:   {"channel.chat.clear_user_messages", "1", "channel:moderate"},
	ChannelChatMessage:             {"channel.chat.message", "1", "user:read:chat"},
	ChannelChatMessageDelete:       {"channel.chat.message_delete", "1", "channel:moderate"},
	ChannelChatNotification:        {"channel.chat.notification", "1", "channel:bot"},
	ChannelChatSettingsUpdate:      {"channel.chat_settings.update", "1", "moderator:manage:chat_settings"},
	ChannelChatUserMessageHold:     {"channel.chat.user_message_hold", "1", "channel:moderate"},
	ChannelChatUserMessageUpdate:   {"channel.chat.user_message_update", "1", "channel:moderate"},
	ChannelSharedChatBegin:         {"channel.shared_chat.begin", "1", "channel:manage:extensions"},
	ChannelSharedChatUpdate:        {"channel.shared_chat.update", "1", "channel:manage:extensions"},
	ChannelSharedChatEnd:           {"channel.shared_chat.end", "1", "channel:manage:extensions"},
	ChannelSubscribe:               {"channel.subscribe", "1", "channel:read:subscriptions"},
	ChannelSubscriptionEnd:         {"channel.subscription.end", "1", "channel:read:subscriptions"},
	ChannelSubscriptionGift:        {"channel.subscription.gift", "1", "channel:read:subscriptions"},
	ChannelSubscriptionMessage:     {"channel.subscription.message", "1", "channel:read:subscriptions"},
	ChannelCheer:                   {"channel.cheer", "1", "bits:read"},
	ChannelRaid:                    {"channel.raid", "1", "channel:manage:raids"},
	ChannelBan:                     {"channel.ban", "1", "moderator:manage:banned_users"},
	ChannelUnban:                   {"channel.unban", "1", "moderator:manage:banned_users"},
	ChannelUnbanRequestCreate:      {"channel.unban_request.create", "1", "moderator:manage:unban_requests"},
	ChannelUnbanRequestResolve:     {"channel.unban_request.resolve", "1", "moderator:manage:unban_requests"},
	ChannelModerate:                {"channel.moderate", "2", "channel:moderate"},
	ChannelModeratorAdd:            {"channel.moderator.add", "1", "channel:manage:moderators"},
	ChannelModeratorRemove:         {"channel.moderator.remove", "1", "channel:manage:moderators"},
	ChannelGuestStarSessionBegin:   {"channel.guest_star_session.begin", "beta", "channel:manage:guest_star"},
	ChannelGuestStarSessionEnd:     {"channel.guest_star_session.end", "beta", "channel:manage:guest_star"},
	ChannelGuestStarGuestUpdate:    {"channel.guest_star_guest.update", "beta", "channel:manage:guest_star"},
	ChannelGuestStarSettingsUpdate: {"channel.guest_star_settings.update", "beta", "channel:manage:guest_star"},
	ChannelPointsAutomaticRewardRedemptionAdd: {"channel.channel_points_automatic_reward_redemption.add", "2", "channel:manage:redemptions"},
	ChannelPointsCustomRewardAdd:              {"channel.channel_points_custom_reward.add", "1", "channel:manage:redemptions"},
	ChannelPointsCustomRewardUpdate:           {"channel.channel_points_custom_reward.update", "1", "channel:manage:redemptions"},
	ChannelPointsCustomRewardRemove:           {"channel.channel_points_custom_reward.remove", "1", "channel:manage:redemptions"},
	ChannelPointsCustomRewardRedemptionAdd:    {"channel.channel_points_custom_reward_redemption.add", "1", "channel:manage:redemptions"},
	ChannelPointsCustomRewardRedemptionUpdate: {"channel.channel_points_custom_reward_redemption.update", "1", "channel:manage:redemptions"},
	ChannelPollBegin:               {"channel.poll.begin", "1", "channel:manage:polls"},
	ChannelPollProgress:            {"channel.poll.progress", "1", "channel:manage:polls"},
	ChannelPollEnd:                 {"channel.poll.end", "1", "channel:manage:polls"},
	ChannelPredictionBegin:         {"channel.prediction.begin", "1", "channel:manage:predictions"},
	ChannelPredictionProgress:      {"channel.prediction.progress", "1", "channel:manage:predictions"},
	ChannelPredictionLock:          {"channel.prediction.lock", "1", "channel:manage:predictions"},
	ChannelPredictionEnd:           {"channel.prediction.end", "1", "channel:manage:predictions"},
	ChannelSuspiciousUserMessage:   {"channel.suspicious_user.message", "1", "moderator:read:suspicious_users"},
	ChannelSuspiciousUserUpdate:    {"channel.suspicious_user.update", "1", "moderator:read:suspicious_users"},
	ChannelVipAdd:                  {"channel.vip.add", "1", "channel:manage:vips"},
	ChannelVipRemove:               {"channel.vip.remove", "1", "channel:manage:vips"},
	ChannelWarningAcknowledge:      {"channel.warning.acknowledge", "1", "moderator:manage:warnings"},
	ChannelWarningSend:             {"channel.warning.send", "1", "moderator:manage:warnings"},
	ChannelCharityCampaignDonate:   {"channel.charity_campaign.donate", "1", "channel:read:charity"},
	ChannelCharityCampaignStart:    {"channel.charity_campaign.start", "1", "channel:read:charity"},
	ChannelCharityCampaignProgress: {"channel.charity_campaign.progress", "1", "channel:read:charity"},
	ChannelCharityCampaignStop:     {"channel.charity_campaign.stop", "1", "channel:read:charity"},
	ExtensionBitsTransactionCreate: {"extension.bits_transaction.create", "1", "analytics:read:extensions"},
	ChannelGoalBegin:               {"channel.goal.begin", "1", "channel:read:goals"},
	ChannelGoalProgress:            {"channel.goal.progress", "1", "channel:read:goals"},
	ChannelGoalEnd:                 {"channel.goal.end", "1", "channel:read:goals"},
	ChannelHypeTrainBegin:          {"channel.hype_train.begin", "1", "channel:read:hype_train"},
	ChannelHypeTrainProgress:       {"channel.hype_train.progress", "1", "channel:read:hype_train"},
	ChannelHypeTrainEnd:            {"channel.hype_train.end", "1", "channel:read:hype_train"},
	ChannelShieldModeBegin:         {"channel.shield_mode.begin", "1", "moderator:manage:shield_mode"},
	ChannelShieldModeEnd:           {"channel.shield_mode.end", "1", "moderator:manage:shield_mode"},
	ChannelShoutoutCreate:          {"channel.shoutout.create", "1", "moderator:manage:shoutouts"},
	ChannelShoutoutReceive:         {"channel.shoutout.receive", "1", "moderator:read:shoutouts"},
	StreamOnline:                   {"stream.online", "1", "user:read:broadcast"},
	StreamOffline:                  {"stream.offline", "1", "user:read:broadcast"},
	UserWhisperMessage:             {"user.whisper.message", "1", "user:manage:whispers"},
}

var categoryByWireType = func() map[string]Category {
	m := make(map[string]Category, len(catalog))
	for c, d := range catalog {
		m[d.wireType] = c
	}
	return m
}()

// String returns the EventSub type name, e.g. "channel.follow".
func (c Category) String() string {
	if d, ok := catalog[c]; ok {
		return d.wireType
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Descriptor returns the wire type name and API version used when
// registering a subscription for c.
func Descriptor(c Category) (wireType, version string) {
	d := catalog[c]
	return d.wireType, d.version
}

// ScopesFor returns the deduplicated OAuth scopes needed to subscribe to
// the given categories. The baseline chat scope is always included so the
// client can send messages regardless of what it listens to.
func ScopesFor(categories []Category) []string {
	scopes := []string{baselineScope}
	seen := map[string]struct{}{baselineScope: {}}
	for _, c := range categories {
		d, ok := catalog[c]
		if !ok {
			continue
		}
		if _, dup := seen[d.scope]; dup {
			continue
		}
		seen[d.scope] = struct{}{}
		scopes = append(scopes, d.scope)
	}
	return scopes
}

// Condition builds the wire-shaped condition object for c. The server
// rejects malformed conditions, so the field layout per category group is
// fixed: raid targets use to_broadcaster_user_id, channel-points reward
// categories use the broadcaster alone, the moderator group pairs the
// broadcaster with a moderator, and everything else pairs the broadcaster
// with a user.
func Condition(c Category, broadcasterID string) map[string]string {
	switch c {
	case ChannelRaid:
		return map[string]string{
			"to_broadcaster_user_id": broadcasterID,
		}
	case ChannelUnbanRequestCreate,
		ChannelUnbanRequestResolve,
		ChannelGuestStarGuestUpdate,
		ChannelGuestStarSessionBegin,
		ChannelGuestStarSessionEnd,
		ChannelGuestStarSettingsUpdate,
		ChannelFollow:
		return map[string]string{
			"broadcaster_user_id": broadcasterID,
			"moderator_user_id":   broadcasterID,
		}
	case ChannelPointsCustomRewardAdd,
		ChannelPointsCustomRewardUpdate,
		ChannelPointsCustomRewardRemove,
		ChannelPointsCustomRewardRedemptionAdd,
		ChannelPointsCustomRewardRedemptionUpdate:
		return map[string]string{
			"broadcaster_user_id": broadcasterID,
		}
	default:
		return map[string]string{
			"broadcaster_user_id": broadcasterID,
			"user_id":             broadcasterID,
		}
	}
}

// CategoryForType resolves an EventSub type name reported by the server
// back to its Category. An unknown type name is a contract mismatch and
// fails loudly.
func CategoryForType(wireType string) (Category, error) {
	c, ok := categoryByWireType[wireType]
	if !ok {
		return 0, apperrors.ProtocolError(fmt.Sprintf("unrecognized subscription type %q", wireType))
	}
	return c, nil
}

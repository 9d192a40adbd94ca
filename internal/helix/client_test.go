package helix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OikoumE/twitchwrapper/internal/auth"
	apperrors "github.com/OikoumE/twitchwrapper/internal/errors"
	"github.com/OikoumE/twitchwrapper/internal/eventsub"
)

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	refreshes int
}

func (f *fakeTokens) Current() *auth.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &auth.Credentials{AccessToken: f.token}
}

func (f *fakeTokens) Refresh(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.token = "refreshed"
	return nil
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func TestSendChatMessage_RefreshesAndRetriesOn401(t *testing.T) {
	tokens := &fakeTokens{token: "stale"}

	var mu sync.Mutex
	var bearers []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/messages", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "123", body["broadcaster_id"])
		assert.Equal(t, "456", body["sender_id"])
		assert.Equal(t, "hello chat", body["message"])

		mu.Lock()
		bearers = append(bearers, r.Header.Get("Authorization"))
		first := len(bearers) == 1
		mu.Unlock()

		if first {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("client-id", tokens, WithAPIURL(server.URL))
	c.SetBroadcaster("123", "456")

	require.NoError(t, c.SendChatMessage(context.Background(), "hello chat"))
	assert.Equal(t, 1, tokens.refreshCount())
	assert.Equal(t, []string{"Bearer stale", "Bearer refreshed"}, bearers)
}

func TestGetUsers_StillUnauthorizedAfterRetriesIsAuthError(t *testing.T) {
	tokens := &fakeTokens{token: "stale"}

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient("client-id", tokens, WithAPIURL(server.URL))

	_, err := c.GetUsersByLogin(context.Background(), []string{"streamer"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuth))
	assert.Equal(t, lookupRetryAttempts, calls)
	assert.Equal(t, lookupRetryAttempts, tokens.refreshCount())
}

func TestSendAnnouncement_CooldownSubstitutesChatNotice(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var paths []string
	var lastChatBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/chat/messages" {
			_ = json.NewDecoder(r.Body).Decode(&lastChatBody)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL), WithClock(clock))
	c.SetBroadcaster("123", "456")

	require.NoError(t, c.SendAnnouncement(context.Background(), "first"))
	require.NoError(t, c.SendAnnouncement(context.Background(), "too soon"))

	clock.Advance(3 * time.Second)
	require.NoError(t, c.SendAnnouncement(context.Background(), "after cooldown"))

	assert.Equal(t, []string{"/chat/announcements", "/chat/messages", "/chat/announcements"}, paths)
	assert.Equal(t, "Announcement cooldown active, slow down!", lastChatBody["message"])
}

func TestGetUsersByID_TruncatesBatchToServerCap(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()["id"]
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = "u"
	}
	_, err := c.GetUsersByID(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, got, userBatchCap)
}

func TestGetStreams_FollowsCursorUntilExhausted(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cursor := ""
		if calls == 1 {
			cursor = "page2"
		} else {
			assert.Equal(t, "page2", r.URL.Query().Get("after"))
		}
		resp := map[string]any{
			"data":       []map[string]any{{"id": "s", "user_login": "streamer"}},
			"pagination": map[string]string{"cursor": cursor},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))

	streams, err := c.GetStreams(context.Background(), []string{"streamer"})
	require.NoError(t, err)
	assert.Len(t, streams, 2)
	assert.Equal(t, 2, calls)
}

func TestGetStreams_PageCapGuaranteesTermination(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// cursor never empties; a buggy server must not loop the client
		_, _ = w.Write([]byte(`{"data":[{"id":"s"}],"pagination":{"cursor":"again"}}`))
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))

	streams, err := c.GetStreams(context.Background(), []string{"streamer"})
	require.NoError(t, err)
	assert.Equal(t, maxStreamPages, calls)
	assert.Len(t, streams, maxStreamPages)
}

func TestCreateSubscription_PassesStatusThroughWithoutRefresh(t *testing.T) {
	tokens := &fakeTokens{token: "t"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eventsub/subscriptions", r.URL.Path)
		var req eventsub.SubscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "channel.follow", req.Type)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient("client-id", tokens, WithAPIURL(server.URL))

	status, err := c.CreateSubscription(context.Background(),
		eventsub.NewSubscriptionRequest(eventsub.ChannelFollow, "123", "abc123"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 0, tokens.refreshCount())
}

func TestResolveUser_NumericUsesIDLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12345", r.URL.Query().Get("id"))
		assert.Empty(t, r.URL.Query().Get("login"))
		_, _ = w.Write([]byte(`{"data":[{"id":"12345","login":"streamer","display_name":"Streamer"}]}`))
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))

	id, name, err := c.ResolveUser(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
	assert.Equal(t, "Streamer", name)
}

func TestResolveUser_LoginIsLowercased(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "streamer", r.URL.Query().Get("login"))
		_, _ = w.Write([]byte(`{"data":[{"id":"12345","login":"streamer","display_name":"Streamer"}]}`))
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))

	id, _, err := c.ResolveUser(context.Background(), "StReAmEr")
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
}

func TestResolveUser_UnknownBroadcaster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))

	_, _, err := c.ResolveUser(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeApplication))
}

func TestStartRaid_TargetsConfiguredBroadcaster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/raids", r.URL.Path)
		assert.Equal(t, "123", r.URL.Query().Get("from_broadcaster_id"))
		assert.Equal(t, "789", r.URL.Query().Get("to_broadcaster_id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithAPIURL(server.URL))
	c.SetBroadcaster("123", "456")

	require.NoError(t, c.StartRaid(context.Background(), "789"))
}

func TestValidateToken(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/validate", r.URL.Path)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "{}")
	}))
	defer server.Close()

	c := NewClient("client-id", &fakeTokens{token: "t"}, WithIDURL(server.URL))

	status = http.StatusOK
	ok, err := c.ValidateToken(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	status = http.StatusUnauthorized
	ok, err = c.ValidateToken(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

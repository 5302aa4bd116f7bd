package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccessToken = "test-access-token"

type fakeDiscord struct {
	user    DiscordUser
	guilds  []DiscordGuild
	members map[string]DiscordGuildMember

	mu           sync.Mutex
	tokenForm    url.Values
	tokenUA      string
	memberLookup []string
}

func newFakeDiscord(t *testing.T) (*fakeDiscord, *httptest.Server) {
	fd := &fakeDiscord{
		user:    DiscordUser{ID: "80351110224678912", Username: "nelly", Email: "nelly@example.com", Verified: true},
		members: map[string]DiscordGuildMember{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/oauth2/token", fd.handleToken)
	mux.HandleFunc("GET /api/users/@me", fd.authed(func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		user := fd.user
		fd.mu.Unlock()

		writeJSON(w, http.StatusOK, user)
	}))
	mux.HandleFunc("GET /api/users/@me/guilds", fd.authed(func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		guilds := fd.guilds
		fd.mu.Unlock()

		writeJSON(w, http.StatusOK, guilds)
	}))
	mux.HandleFunc("GET /api/users/@me/guilds/{guild}/member", fd.authed(func(w http.ResponseWriter, r *http.Request) {
		guild := r.PathValue("guild")

		fd.mu.Lock()
		fd.memberLookup = append(fd.memberLookup, guild)
		member, ok := fd.members[guild]
		fd.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Unknown Guild", "code": 10004})
			return
		}
		writeJSON(w, http.StatusOK, member)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return fd, srv
}

func (fd *fakeDiscord) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	fd.tokenForm = r.PostForm
	fd.tokenUA = r.Header.Get("User-Agent")
	fd.mu.Unlock()

	switch r.PostForm.Get("code") {
	case "bad-code":
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": `Invalid "code" in request.`,
		})
	case "bare-error":
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client"})
	case "server-error":
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": testAccessToken,
			"token_type":   "Bearer",
			"expires_in":   604800,
			"scope":        "identify email guilds guilds.members.read",
		})
	}
}

func (fd *fakeDiscord) setGuilds(ids ...string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.guilds = nil
	for _, id := range ids {
		fd.guilds = append(fd.guilds, DiscordGuild{ID: id, Name: "guild " + id})
	}
}

func (fd *fakeDiscord) setRoles(guild string, roles ...string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.members[guild] = DiscordGuildMember{Roles: roles}
}

func (fd *fakeDiscord) form() url.Values {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.tokenForm
}

func (fd *fakeDiscord) lookups() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]string(nil), fd.memberLookup...)
}

func (fd *fakeDiscord) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized", "code": 0})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testDiscordConfig(apiBase string, guilds GuildPolicies) *Config {
	return &Config{
		Provider:           ProviderDiscord,
		ClientId:           "1234567890",
		ClientSecret:       "discord-secret",
		RedirectUri:        "https://gate.example.com/redirect",
		SuccessRedirectUrl: "https://app.example.com/welcome",
		Discord: DiscordConfig{
			Guilds:     guilds,
			Scopes:     []string{"identify", "email", "guilds", "guilds.members.read"},
			AuthUrl:    apiBase + "/oauth2/authorize",
			TokenUrl:   apiBase + "/oauth2/token",
			ApiBaseUrl: apiBase,
		},
	}
}

func newTestDiscordGateway(t *testing.T, srv *httptest.Server, guilds GuildPolicies) *DiscordGateway {
	gw, err := NewDiscordGateway(DiscordGatewayArgs{
		H:      srv.Client(),
		Config: testDiscordConfig(srv.URL+"/api", guilds),
	})
	require.NoError(t, err)
	return gw
}

func TestDiscordAuthorizeURL(t *testing.T) {
	assert := assert.New(t)

	gw, err := NewDiscordGateway(DiscordGatewayArgs{
		Config: testDiscordConfig("https://discord.com/api", nil),
	})
	require.NoError(t, err)

	u, err := url.Parse(gw.AuthorizeURL())
	require.NoError(t, err)

	assert.Equal("discord.com", u.Host)
	assert.Equal("/api/oauth2/authorize", u.Path)

	q := u.Query()
	assert.Equal("1234567890", q.Get("client_id"))
	assert.Equal("https://gate.example.com/redirect", q.Get("redirect_uri"))
	assert.Equal("code", q.Get("response_type"))
	assert.Equal("identify email guilds guilds.members.read", q.Get("scope"))
	assert.False(q.Has("state"))

	assert.Contains(gw.AuthorizeURL(), "redirect_uri="+url.QueryEscape("https://gate.example.com/redirect"))
}

func TestDiscordAuthorizeAllRoles(t *testing.T) {
	assert := assert.New(t)

	fd, srv := newFakeDiscord(t)
	fd.setGuilds("g1")
	fd.setRoles("g1", "A", "B", "C")

	gw := newTestDiscordGateway(t, srv, GuildPolicies{{ID: "g1", RoleIDs: []string{"A", "B"}}})

	identity, err := gw.Authorize(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal("discord", identity.Provider)
	assert.Equal("80351110224678912", identity.ID)
	assert.Equal("nelly", identity.Name)

	form := fd.form()
	assert.Equal("1234567890", form.Get("client_id"))
	assert.Equal("discord-secret", form.Get("client_secret"))
	assert.Equal("authorization_code", form.Get("grant_type"))
	assert.Equal("good-code", form.Get("code"))
	assert.Equal("https://gate.example.com/redirect", form.Get("redirect_uri"))
}

func TestDiscordAuthorizeMissingRole(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	fd.setGuilds("g1")
	fd.setRoles("g1", "A")

	gw := newTestDiscordGateway(t, srv, GuildPolicies{{ID: "g1", RoleIDs: []string{"A", "B"}}})

	identity, err := gw.Authorize(context.Background(), "good-code")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, identity)
}

func TestDiscordAuthorizeNotInGuild(t *testing.T) {
	assert := assert.New(t)

	fd, srv := newFakeDiscord(t)
	fd.setGuilds("other")
	fd.setRoles("g1", "A")

	gw := newTestDiscordGateway(t, srv, GuildPolicies{{ID: "g1", RoleIDs: []string{"A"}}})

	_, err := gw.Authorize(context.Background(), "good-code")
	assert.ErrorIs(err, ErrNotAuthorized)
	assert.Empty(fd.lookups())
}

func TestDiscordAuthorizeFirstMatchWins(t *testing.T) {
	assert := assert.New(t)

	fd, srv := newFakeDiscord(t)
	fd.setGuilds("g3", "g2", "g1")
	fd.setRoles("g1", "X")
	fd.setRoles("g2", "A", "B")
	fd.setRoles("g3", "A")

	gw := newTestDiscordGateway(t, srv, GuildPolicies{
		{ID: "g1", RoleIDs: []string{"A"}},
		{ID: "g2", RoleIDs: []string{"A", "B"}},
		{ID: "g3", RoleIDs: []string{"A"}},
	})

	_, err := gw.Authorize(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal([]string{"g1", "g2"}, fd.lookups())
}

func TestDiscordAuthorizeMemberLookupFailureFallsThrough(t *testing.T) {
	assert := assert.New(t)

	fd, srv := newFakeDiscord(t)
	fd.setGuilds("g1", "g2")
	fd.setRoles("g2", "A")

	gw := newTestDiscordGateway(t, srv, GuildPolicies{
		{ID: "g1", RoleIDs: []string{"A"}},
		{ID: "g2", RoleIDs: []string{"A"}},
	})

	_, err := gw.Authorize(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal([]string{"g1", "g2"}, fd.lookups())
}

func TestDiscordAuthorizeEmptyRoleSet(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	fd.setGuilds("g1")
	fd.setRoles("g1")

	gw := newTestDiscordGateway(t, srv, GuildPolicies{{ID: "g1"}})

	_, err := gw.Authorize(context.Background(), "good-code")
	assert.NoError(t, err)
}

func TestDiscordAuthorizeNoPolicies(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	fd.setGuilds("g1")

	gw := newTestDiscordGateway(t, srv, nil)

	_, err := gw.Authorize(context.Background(), "good-code")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestDiscordAuthorizeTokenErrors(t *testing.T) {
	_, srv := newFakeDiscord(t)
	gw := newTestDiscordGateway(t, srv, nil)

	tests := []struct {
		name    string
		code    string
		message string
	}{
		{name: "with description", code: "bad-code", message: `Invalid "code" in request.`},
		{name: "without description", code: "bare-error", message: "Error fetching token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.Authorize(context.Background(), tt.code)

			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, StageToken, perr.Stage)
			assert.Equal(t, tt.message, perr.Message())
		})
	}
}

func TestDiscordAuthorizeTokenServerError(t *testing.T) {
	_, srv := newFakeDiscord(t)
	gw := newTestDiscordGateway(t, srv, nil)

	_, err := gw.Authorize(context.Background(), "server-error")
	require.Error(t, err)

	var perr *ProviderError
	assert.False(t, errors.As(err, &perr))
	assert.NotErrorIs(t, err, ErrNotAuthorized)
}

func TestDiscordFetchUserErrors(t *testing.T) {
	assert := assert.New(t)

	fd, srv := newFakeDiscord(t)
	gw := newTestDiscordGateway(t, srv, nil)

	_, err := gw.FetchUser(context.Background(), "wrong-token")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(StageProfile, perr.Stage)
	assert.Equal("401: Unauthorized", perr.Message())

	fd.mu.Lock()
	fd.user = DiscordUser{Error: "access_denied"}
	fd.mu.Unlock()
	_, err = gw.FetchUser(context.Background(), testAccessToken)
	require.ErrorAs(t, err, &perr)
	assert.Equal("access_denied", perr.Message())
}

func TestDiscordFetchUserUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		writeJSON(w, http.StatusOK, DiscordUser{ID: "1"})
	}))
	defer srv.Close()

	gw := newTestDiscordGateway(t, srv, nil)

	_, err := gw.FetchUser(context.Background(), testAccessToken)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ua, "oauth-gateway/"))
}

func TestNewDiscordGatewayWrongProvider(t *testing.T) {
	cfg := testDiscordConfig("https://discord.com/api", nil)
	cfg.Provider = ProviderMicrosoft
	cfg.Microsoft = MicrosoftConfig{
		TenantId:     "common",
		TargetDomain: "corp.com",
		LoginBaseUrl: "https://login.microsoftonline.com",
		GraphBaseUrl: "https://graph.microsoft.com/v1.0",
	}

	_, err := NewDiscordGateway(DiscordGatewayArgs{Config: cfg})
	assert.Error(t, err)
}

func TestDiscordExchangeClientBuiltOnce(t *testing.T) {
	assert := assert.New(t)

	fd, srv := newFakeDiscord(t)
	gw := newTestDiscordGateway(t, srv, nil)

	exchangeH := gw.exchangeH
	require.NotNil(t, exchangeH)

	uat, ok := exchangeH.Transport.(*userAgentTransport)
	require.True(t, ok)
	assert.Same(srv.Client().Transport, uat.base)

	for range 2 {
		_, err := gw.Authorize(context.Background(), "good-code")
		assert.ErrorIs(err, ErrNotAuthorized)
	}

	assert.Same(exchangeH, gw.exchangeH)

	fd.mu.Lock()
	ua := fd.tokenUA
	fd.mu.Unlock()
	assert.True(strings.HasPrefix(ua, "oauth-gateway/"))
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/streamplace/oauth-gateway/internal/helpers"
	"golang.org/x/oauth2"
)

type DiscordGateway struct {
	h          *http.Client
	exchangeH  *http.Client
	oauth      *oauth2.Config
	apiBaseUrl string
	guilds     GuildPolicies
	logger     *slog.Logger
}

type DiscordGatewayArgs struct {
	H      *http.Client
	Config *Config
	Logger *slog.Logger
}

func NewDiscordGateway(args DiscordGatewayArgs) (*DiscordGateway, error) {
	if args.Config == nil {
		return nil, fmt.Errorf("no config provided")
	}

	cfg := args.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Provider != ProviderDiscord {
		return nil, fmt.Errorf("config is for provider %q, not discord", cfg.Provider)
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	h := newHTTPClient(args.H, cfg.HTTPTimeout)

	return &DiscordGateway{
		h:         h,
		exchangeH: exchangeHTTPClient(h),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientId,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectUri,
			Scopes:       cfg.Discord.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.Discord.AuthUrl,
				TokenURL:  cfg.Discord.TokenUrl,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseUrl: cfg.Discord.ApiBaseUrl,
		guilds:     cfg.Discord.Guilds,
		logger:     args.Logger.With("provider", ProviderDiscord),
	}, nil
}

func (g *DiscordGateway) Name() string {
	return string(ProviderDiscord)
}

func (g *DiscordGateway) AuthorizeURL() string {
	return g.oauth.AuthCodeURL("")
}

func (g *DiscordGateway) Authorize(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	tok, err := exchangeCode(ctx, g.exchangeH, g.oauth, code)
	if err != nil {
		return nil, err
	}

	user, err := g.FetchUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	guilds, err := g.FetchGuilds(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	joined := make(map[string]struct{}, len(guilds))
	for _, guild := range guilds {
		joined[guild.ID] = struct{}{}
	}

	for _, policy := range g.guilds {
		if _, ok := joined[policy.ID]; !ok {
			continue
		}

		member, err := g.FetchGuildMember(ctx, tok.AccessToken, policy.ID)
		if err != nil {
			var se *StatusError
			if !errors.As(err, &se) {
				return nil, err
			}

			g.logger.Warn("could not fetch guild member", "guild", policy.ID, "user", user.ID, "status", se.StatusCode)
			continue
		}

		if helpers.ContainsAll(member.Roles, policy.RoleIDs) {
			g.logger.Info("user authorized", "guild", policy.ID, "user", user.ID)

			return &Identity{
				Provider: g.Name(),
				ID:       user.ID,
				Name:     user.Username,
				Email:    user.Email,
			}, nil
		}
	}

	g.logger.Info("user did not satisfy any guild policy", "user", user.ID, "guilds", len(guilds))

	return nil, ErrNotAuthorized
}

func (g *DiscordGateway) FetchUser(ctx context.Context, accessToken string) (*DiscordUser, error) {
	var user DiscordUser
	if err := getJSON(ctx, g.h, joinUrl(g.apiBaseUrl, "users", "@me"), accessToken, &user); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			var body DiscordUser
			if json.Unmarshal(se.Body, &body) == nil {
				if perr := discordProfileError(&body); perr != nil {
					return nil, perr
				}
			}
		}
		return nil, fmt.Errorf("could not fetch discord user: %w", err)
	}

	if perr := discordProfileError(&user); perr != nil {
		return nil, perr
	}

	return &user, nil
}

func (g *DiscordGateway) FetchGuilds(ctx context.Context, accessToken string) ([]DiscordGuild, error) {
	var guilds []DiscordGuild
	if err := getJSON(ctx, g.h, joinUrl(g.apiBaseUrl, "users", "@me", "guilds"), accessToken, &guilds); err != nil {
		return nil, fmt.Errorf("could not fetch discord guilds: %w", err)
	}

	return guilds, nil
}

func (g *DiscordGateway) FetchGuildMember(ctx context.Context, accessToken, guildId string) (*DiscordGuildMember, error) {
	var member DiscordGuildMember
	if err := getJSON(ctx, g.h, joinUrl(g.apiBaseUrl, "users", "@me", "guilds", guildId, "member"), accessToken, &member); err != nil {
		return nil, fmt.Errorf("could not fetch discord guild member: %w", err)
	}

	return &member, nil
}

func discordProfileError(u *DiscordUser) error {
	if u.Error != "" {
		return &ProviderError{
			Stage:       StageProfile,
			Code:        u.Error,
			Description: u.ErrorDescription,
		}
	}

	if u.ID == "" && u.Message != "" {
		return &ProviderError{
			Stage:       StageProfile,
			Description: u.Message,
		}
	}

	return nil
}

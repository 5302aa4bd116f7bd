package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/streamplace/oauth-gateway/internal/helpers"
	"golang.org/x/oauth2"
)

const microsoftResponseMode = "query"

type MicrosoftGateway struct {
	h            *http.Client
	exchangeH    *http.Client
	oauth        *oauth2.Config
	graphBaseUrl string
	targetDomain string
	logger       *slog.Logger
}

type MicrosoftGatewayArgs struct {
	H      *http.Client
	Config *Config
	Logger *slog.Logger
}

func NewMicrosoftGateway(args MicrosoftGatewayArgs) (*MicrosoftGateway, error) {
	if args.Config == nil {
		return nil, fmt.Errorf("no config provided")
	}

	cfg := args.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Provider != ProviderMicrosoft {
		return nil, fmt.Errorf("config is for provider %q, not microsoft", cfg.Provider)
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	base := joinUrl(cfg.Microsoft.LoginBaseUrl, cfg.Microsoft.TenantId, "oauth2", "v2.0")

	h := newHTTPClient(args.H, cfg.HTTPTimeout)

	return &MicrosoftGateway{
		h:         h,
		exchangeH: exchangeHTTPClient(h),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientId,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectUri,
			Scopes:       cfg.Microsoft.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		graphBaseUrl: cfg.Microsoft.GraphBaseUrl,
		targetDomain: cfg.Microsoft.TargetDomain,
		logger:       args.Logger.With("provider", ProviderMicrosoft),
	}, nil
}

func (g *MicrosoftGateway) Name() string {
	return string(ProviderMicrosoft)
}

func (g *MicrosoftGateway) AuthorizeURL() string {
	return g.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("response_mode", microsoftResponseMode))
}

func (g *MicrosoftGateway) Authorize(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	// microsoft wants the scope repeated on the token request
	tok, err := exchangeCode(
		ctx,
		g.exchangeH,
		g.oauth,
		code,
		oauth2.SetAuthURLParam("scope", strings.Join(g.oauth.Scopes, " ")),
		oauth2.SetAuthURLParam("response_mode", microsoftResponseMode),
	)
	if err != nil {
		return nil, err
	}

	profile, err := g.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	if !helpers.DomainMatches(profile.Address(), g.targetDomain) {
		g.logger.Info("user mail domain not permitted", "user", profile.ID, "domain", helpers.EmailDomain(profile.Address()))
		return nil, ErrNotAuthorized
	}

	g.logger.Info("user authorized", "user", profile.ID)

	return &Identity{
		Provider: g.Name(),
		ID:       profile.ID,
		Name:     profile.DisplayName,
		Email:    profile.Address(),
	}, nil
}

func (g *MicrosoftGateway) FetchProfile(ctx context.Context, accessToken string) (*MicrosoftProfile, error) {
	var profile MicrosoftProfile
	if err := getJSON(ctx, g.h, joinUrl(g.graphBaseUrl, "me"), accessToken, &profile); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			var body graphErrorBody
			if json.Unmarshal(se.Body, &body) == nil && body.Error != nil {
				return nil, graphProfileError(body.Error)
			}
		}
		return nil, fmt.Errorf("could not fetch microsoft profile: %w", err)
	}

	if profile.Error != nil {
		return nil, graphProfileError(profile.Error)
	}

	return &profile, nil
}

func graphProfileError(ge *GraphError) error {
	return &ProviderError{
		Stage:       StageProfile,
		Code:        ge.Code,
		Description: ge.Message,
	}
}

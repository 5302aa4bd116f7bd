package gateway

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Provider string

const (
	ProviderDiscord   Provider = "discord"
	ProviderMicrosoft Provider = "microsoft"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	Provider           Provider      `env:"GATEWAY_PROVIDER" envDefault:"discord"`
	ClientId           string        `env:"GATEWAY_CLIENT_ID"`
	ClientSecret       string        `env:"GATEWAY_CLIENT_SECRET"`
	RedirectUri        string        `env:"GATEWAY_REDIRECT_URI"`
	SuccessRedirectUrl string        `env:"GATEWAY_SUCCESS_REDIRECT_URL"`
	HTTPTimeout        time.Duration `env:"GATEWAY_HTTP_TIMEOUT" envDefault:"10s"`

	Discord   DiscordConfig   `envPrefix:"GATEWAY_DISCORD_"`
	Microsoft MicrosoftConfig `envPrefix:"GATEWAY_MICROSOFT_"`
}

type DiscordConfig struct {
	Guilds     GuildPolicies `env:"GUILDS"`
	Scopes     []string      `env:"SCOPES" envSeparator:" " envDefault:"identify email guilds guilds.members.read"`
	AuthUrl    string        `env:"AUTH_URL" envDefault:"https://discord.com/api/oauth2/authorize"`
	TokenUrl   string        `env:"TOKEN_URL" envDefault:"https://discord.com/api/oauth2/token"`
	ApiBaseUrl string        `env:"API_BASE_URL" envDefault:"https://discord.com/api"`
}

type MicrosoftConfig struct {
	TenantId     string   `env:"TENANT_ID" envDefault:"common"`
	TargetDomain string   `env:"TARGET_DOMAIN"`
	Scopes       []string `env:"SCOPES" envSeparator:" " envDefault:"openid profile email User.Read"`
	LoginBaseUrl string   `env:"LOGIN_BASE_URL" envDefault:"https://login.microsoftonline.com"`
	GraphBaseUrl string   `env:"GRAPH_BASE_URL" envDefault:"https://graph.microsoft.com/v1.0"`
}

// LoadConfig parses the gateway configuration from environment, or from the
// process environment when environment is nil.
func LoadConfig(environment map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("could not parse config from environment: %w", err)
	}

	cfg.Provider = Provider(strings.ToLower(strings.TrimSpace(string(cfg.Provider))))
	cfg.Microsoft.TargetDomain = strings.TrimPrefix(strings.TrimSpace(cfg.Microsoft.TargetDomain), "@")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ClientId == "" {
		return fmt.Errorf("no client id provided")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("no client secret provided")
	}

	if c.RedirectUri == "" {
		return fmt.Errorf("no redirect uri provided")
	}

	if c.SuccessRedirectUrl == "" {
		return fmt.Errorf("no success redirect url provided")
	}

	if _, err := parseEndpoint(c.RedirectUri); err != nil {
		return fmt.Errorf("invalid redirect uri: %w", err)
	}

	if _, err := parseEndpoint(c.SuccessRedirectUrl); err != nil {
		return fmt.Errorf("invalid success redirect url: %w", err)
	}

	switch c.Provider {
	case ProviderDiscord:
		return c.Discord.validate()
	case ProviderMicrosoft:
		return c.Microsoft.validate()
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
}

func (dc *DiscordConfig) validate() error {
	for name, u := range map[string]string{
		"discord auth url":     dc.AuthUrl,
		"discord token url":    dc.TokenUrl,
		"discord api base url": dc.ApiBaseUrl,
	} {
		if _, err := parseEndpoint(u); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	for i := range dc.Guilds {
		if err := dc.Guilds[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (mc *MicrosoftConfig) validate() error {
	if mc.TenantId == "" {
		return fmt.Errorf("no microsoft tenant id provided")
	}

	if mc.TargetDomain == "" {
		return fmt.Errorf("no microsoft target domain provided")
	}

	for name, u := range map[string]string{
		"microsoft login base url": mc.LoginBaseUrl,
		"microsoft graph base url": mc.GraphBaseUrl,
	} {
		if _, err := parseEndpoint(u); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// WriteConfigSummary prints cfg with the client secret masked.
func WriteConfigSummary(w io.Writer, cfg *Config) {
	fmt.Fprintf(w, "provider:             %s\n", cfg.Provider)
	fmt.Fprintf(w, "client id:            %s\n", cfg.ClientId)
	fmt.Fprintf(w, "client secret:        %s\n", maskSecret(cfg.ClientSecret))
	fmt.Fprintf(w, "redirect uri:         %s\n", cfg.RedirectUri)
	fmt.Fprintf(w, "success redirect url: %s\n", cfg.SuccessRedirectUrl)
	fmt.Fprintf(w, "http timeout:         %s\n", cfg.HTTPTimeout)

	switch cfg.Provider {
	case ProviderDiscord:
		fmt.Fprintf(w, "scopes:               %s\n", strings.Join(cfg.Discord.Scopes, " "))
		fmt.Fprintf(w, "guild policies:       %d\n", len(cfg.Discord.Guilds))
		for _, gp := range cfg.Discord.Guilds {
			fmt.Fprintf(w, "  %s requires %d role(s)\n", gp.ID, len(gp.RoleIDs))
		}
	case ProviderMicrosoft:
		fmt.Fprintf(w, "scopes:               %s\n", strings.Join(cfg.Microsoft.Scopes, " "))
		fmt.Fprintf(w, "tenant id:            %s\n", cfg.Microsoft.TenantId)
		fmt.Fprintf(w, "target domain:        %s\n", cfg.Microsoft.TargetDomain)
	}
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}

	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Identity is the authorized user, as reported by the provider.
type Identity struct {
	Provider string
	ID       string
	Name     string
	Email    string
}

type DiscordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Email         string `json:"email"`
	Verified      bool   `json:"verified"`

	// set by discord instead of the fields above when the request fails
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

type DiscordGuild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       bool   `json:"owner"`
	Permissions string `json:"permissions"`
}

type DiscordGuildMember struct {
	Roles []string `json:"roles"`
	Nick  string   `json:"nick"`
}

// GuildPolicy requires membership in guild ID and every role in RoleIDs.
type GuildPolicy struct {
	ID      string   `json:"id"`
	RoleIDs []string `json:"roleIDs"`
}

func (gp *GuildPolicy) Validate() error {
	if gp.ID == "" {
		return fmt.Errorf("guild policy has no guild id")
	}

	for _, r := range gp.RoleIDs {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("guild policy for %s contains an empty role id", gp.ID)
		}
	}

	return nil
}

// GuildPolicies is evaluated in order, the first satisfied policy wins.
type GuildPolicies []GuildPolicy

// UnmarshalText decodes the JSON list carried by GATEWAY_DISCORD_GUILDS.
func (gps *GuildPolicies) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*gps = nil
		return nil
	}

	var tmp []GuildPolicy
	if err := json.Unmarshal(b, &tmp); err != nil {
		return fmt.Errorf("could not unmarshal guild policies: %w", err)
	}

	for i := range tmp {
		if err := tmp[i].Validate(); err != nil {
			return err
		}
	}

	*gps = GuildPolicies(tmp)

	return nil
}

type MicrosoftProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	CompanyName       string `json:"companyName"`

	Error *GraphError `json:"error,omitempty"`
}

// Address is the mail address used for the domain check.
func (mp *MicrosoftProfile) Address() string {
	if mp.Mail != "" {
		return mp.Mail
	}

	return mp.UserPrincipalName
}

type GraphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type graphErrorBody struct {
	Error *GraphError `json:"error"`
}

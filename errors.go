package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCode   = errors.New("authorization code not found")
	ErrNotAuthorized = errors.New("authentication failed")
)

type Stage string

const (
	StageToken   Stage = "token"
	StageProfile Stage = "profile"
)

// ProviderError is an error reported by the identity provider itself, as
// opposed to a failure to reach it.
type ProviderError struct {
	Stage       Stage
	Code        string
	Description string
}

func (pe *ProviderError) Error() string {
	if pe.Description != "" {
		return fmt.Sprintf("%s request rejected by provider: %s: %s", pe.Stage, pe.Code, pe.Description)
	}
	return fmt.Sprintf("%s request rejected by provider: %s", pe.Stage, pe.Code)
}

// Message is the text returned to the browser.
func (pe *ProviderError) Message() string {
	switch pe.Stage {
	case StageToken:
		if pe.Description != "" {
			return pe.Description
		}
		return "Error fetching token"
	default:
		if pe.Code != "" {
			return pe.Code
		}
		if pe.Description != "" {
			return pe.Description
		}
		return "Error fetching profile"
	}
}

// StatusError is returned for non-2xx responses from provider APIs.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (se *StatusError) Error() string {
	return fmt.Sprintf("received non-2xx response from %s. code was %d", se.URL, se.StatusCode)
}

package ai

import (
	"errors"
	"fmt"
)

// ErrCredentialMissing means no API key is configured for a provider.
var ErrCredentialMissing = errors.New("api credential missing")

// ProviderError is a non-success answer from an external service.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: provider returned status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Status)
}

// NetworkError wraps a transport failure talking to a provider.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Provider, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsCredentialMissing reports whether err stems from a missing API key.
func IsCredentialMissing(err error) bool {
	return errors.Is(err, ErrCredentialMissing)
}

// credentialError tags ErrCredentialMissing with the provider name.
func credentialError(provider string) error {
	return fmt.Errorf("%s: %w", provider, ErrCredentialMissing)
}

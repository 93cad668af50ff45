//go:generate mockgen -source credentials.go -destination ../testutil/mocks/mock_credentials.go -package mocks CredentialProvider

package realtimedb

// CredentialProvider supplies the access token attached to requests.
//
// It is consulted on every one-shot request and on every stream (re)connect, so a provider that refreshes
// its token is picked up by long-lived listeners after the next reconnect.
type CredentialProvider interface {
	IsAuthenticated() bool
	AccessToken() string
}

// StaticToken is a CredentialProvider with a fixed token. The empty token is unauthenticated.
type StaticToken string

func (t StaticToken) IsAuthenticated() bool {
	return t != ""
}

func (t StaticToken) AccessToken() string {
	return string(t)
}

// TokenFrom returns the current token of provider, or "" if provider is nil or not authenticated.
func TokenFrom(provider CredentialProvider) string {
	if provider == nil || !provider.IsAuthenticated() {
		return ""
	}

	return provider.AccessToken()
}

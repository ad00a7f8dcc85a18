package httpclient

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenType is the authorization scheme the main API and agent expect ("Authorization: Token <key>")
const TokenType = "Token"

// AuthConfig describes how outbound requests authenticate
type AuthConfig struct {
	// Token is a static key sent with TokenType
	Token string
	// TokenURL switches to OAuth2 client credentials when set
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewAuthClient creates an HTTP client that authorizes every request.
// OAuth2 client credentials take precedence over a static token; with neither
// the client is unauthenticated. A zero timeout leaves deadlines to the request context.
func NewAuthClient(auth AuthConfig, timeout time.Duration) *http.Client {
	ctx := context.Background()

	var client *http.Client
	switch {
	case auth.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
		}
		client = cc.Client(ctx)
	case auth.Token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: auth.Token,
			TokenType:   TokenType,
		})
		client = oauth2.NewClient(ctx, ts)
	default:
		return NewDefaultHTTPClient(timeout)
	}

	client.Timeout = timeout
	return client
}

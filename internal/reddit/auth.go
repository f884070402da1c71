package reddit

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const defaultTokenURL = "https://www.reddit.com/api/v1/access_token"

// passwordSource runs the password grant every time the cached token
// expires. The platform issues no refresh tokens for script apps.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return tok, nil
}

// userAgentTransport stamps every request, including token exchanges, with
// the configured agent. The platform rejects generic agents.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

func oauthTransport(tokenURL, clientID, clientSecret, username, password string, base http.RoundTripper, tokenClient *http.Client) http.RoundTripper {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient)
	src := &passwordSource{ctx: ctx, conf: conf, username: username, password: password}
	return &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(nil, src),
		Base:   base,
	}
}

package docsig

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	headerContentTypeForm = "application/x-www-form-urlencoded"
	tokenPath             = "/oauth2/token"
)

// ClientCredentialsFetcher fetches bearer tokens with the OAuth2 client
// credentials grant from https://<endpoint>/oauth2/token.
type ClientCredentialsFetcher struct {
	transport    Transport
	endpoint     string
	clientID     string
	clientSecret string
}

func NewClientCredentialsFetcher(t Transport, authEndpoint, clientID, clientSecret string) *ClientCredentialsFetcher {
	return &ClientCredentialsFetcher{
		transport:    t,
		endpoint:     authEndpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (f *ClientCredentialsFetcher) tokenURL() string {
	if strings.Contains(f.endpoint, "://") {
		return strings.TrimSuffix(f.endpoint, "/") + tokenPath
	}
	return "https://" + strings.TrimSuffix(f.endpoint, "/") + tokenPath
}

func (f *ClientCredentialsFetcher) FetchToken(ctx context.Context) (string, time.Duration, error) {
	if f.clientID == "" || f.clientSecret == "" {
		return "", 0, newError(KindInvalidCredentials, 0, nil, errors.New("empty client id or client secret"))
	}

	basic := base64.StdEncoding.EncodeToString([]byte(f.clientID + ":" + f.clientSecret))

	h := make(http.Header)
	h.Set(headerAuthorization, "Basic "+basic)
	h.Set(headerContentType, headerContentTypeForm)

	body := []byte(url.Values{"grant_type": {"client_credentials"}}.Encode())

	resp, err := f.transport.RoundTrip(ctx, http.MethodPost, f.tokenURL(), h, body)
	if err != nil {
		return "", 0, newError(KindRequestFailed, 0, nil, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", 0, newError(KindInvalidCredentials, resp.StatusCode, resp.Body, nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", 0, newError(KindRequestFailed, resp.StatusCode, resp.Body, nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", 0, newError(KindDecodeFailed, resp.StatusCode, resp.Body, err)
	}
	if tr.AccessToken == "" {
		return "", 0, newError(KindDecodeFailed, resp.StatusCode, resp.Body, fmt.Errorf("missing access_token"))
	}

	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

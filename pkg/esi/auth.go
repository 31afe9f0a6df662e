package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTokenURL     = "https://login.eveonline.com/v2/oauth/token"
	defaultAuthorizeURL = "https://login.eveonline.com/v2/oauth/authorize"

	// tokenExpiryMargin refreshes slightly early so an in-flight request
	// never carries a token that expires mid-request.
	tokenExpiryMargin = 30 * time.Second
)

// TokenSource exchanges a long-lived SSO refresh token for short-lived
// access tokens, refreshing on demand. Safe for concurrent use.
type TokenSource struct {
	clientID     string
	secretKey    string
	tokenURL     string
	userAgent    string
	httpClient   *http.Client
	now          func() time.Time

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiry       time.Time
}

// NewTokenSource constructs a token source from auth configuration.
func NewTokenSource(cfg AuthConfig, userAgent string) *TokenSource {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &TokenSource{
		clientID:     cfg.ClientID,
		secretKey:    cfg.SecretKey,
		refreshToken: cfg.RefreshToken,
		tokenURL:     tokenURL,
		userAgent:    userAgent,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing it first when the cached
// one is missing or about to expire.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.accessToken != "" && t.now().Before(t.expiry.Add(-tokenExpiryMargin)) {
		return t.accessToken, nil
	}
	if err := t.refreshLocked(ctx); err != nil {
		return "", err
	}
	return t.accessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (t *TokenSource) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {t.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("esi: build token request: %w", err)
	}
	req.SetBasicAuth(t.clientID, t.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("esi: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("esi: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("esi: token refresh status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("esi: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("esi: token refresh returned empty access token")
	}

	t.accessToken = tok.AccessToken
	t.expiry = t.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.RefreshToken != "" {
		// SSO may rotate the refresh token; keep the latest one.
		t.refreshToken = tok.RefreshToken
	}
	return nil
}

// AuthURL builds the SSO consent URL for the given scopes along with the
// random state parameter embedded in it. Used for one-time credential
// provisioning, not during sync runs.
func AuthURL(cfg AuthConfig, scopes []string) (authURL, state string) {
	state = uuid.NewString()
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {cfg.ClientID},
		"redirect_uri":  {cfg.Callback},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
	}
	return defaultAuthorizeURL + "?" + q.Encode(), state
}

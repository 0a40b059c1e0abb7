// Package withings implements the Withings OAuth and health-data clients.
package withings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/ports"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	authorizePath = "/oauth2_user/authorize2"
	tokenPath     = "/v2/oauth2"

	// DefaultScopes are requested when none are configured
	DefaultScopes = "user.metrics,user.activity,user.sleepevents"
)

// Config holds the Withings application credentials and endpoints
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBaseURL   string
	OAuthBaseURL string
	Scopes       string // comma separated, as Withings expects
	HTTPClient   *http.Client
}

// OAuthClient implements ports.OAuthClient against the Withings token endpoint
type OAuthClient struct {
	oauth      oauth2.Config
	scopes     string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewOAuthClient creates a Withings OAuth client
func NewOAuthClient(cfg Config, logger *zap.Logger) ports.OAuthClient {
	return newOAuthClient(cfg, logger)
}

func newOAuthClient(cfg Config, logger *zap.Logger) *OAuthClient {
	scopes := cfg.Scopes
	if scopes == "" {
		scopes = DefaultScopes
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &OAuthClient{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			// Withings wants one comma separated scope parameter
			Scopes: []string{scopes},
			Endpoint: oauth2.Endpoint{
				AuthURL:   strings.TrimRight(cfg.OAuthBaseURL, "/") + authorizePath,
				TokenURL:  strings.TrimRight(cfg.APIBaseURL, "/") + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scopes:     scopes,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// AuthorizeURL returns the consent page URL carrying state
func (c *OAuthClient) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a token bundle
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (core.TokenBundle, error) {
	return c.requestToken(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.oauth.RedirectURL},
	})
}

// Refresh trades a refresh token for a new token bundle
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (core.TokenBundle, error) {
	return c.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

type tokenResponse struct {
	Status *int            `json:"status"`
	Error  string          `json:"error"`
	Body   json.RawMessage `json:"body"`
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (c *OAuthClient) requestToken(ctx context.Context, params url.Values) (core.TokenBundle, error) {
	params.Set("action", "requesttoken")
	params.Set("client_id", c.oauth.ClientID)
	params.Set("client_secret", c.oauth.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth.Endpoint.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	grant := params.Get("grant_type")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(grant, "transport_error", start)
		return core.TokenBundle{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var data tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		observe(grant, "decode_error", start)
		if resp.StatusCode >= 300 {
			return core.TokenBundle{}, &core.ProviderError{Status: resp.StatusCode, Message: "token endpoint error"}
		}
		return core.TokenBundle{}, fmt.Errorf("%w: token response: %v", core.ErrDecode, err)
	}

	bundle, err := c.decodeToken(data)
	if err != nil {
		observe(grant, "error", start)
		c.logger.Warn("withings token request rejected", zap.String("grant_type", grant), zap.Error(err))
		return core.TokenBundle{}, err
	}

	observe(grant, "ok", start)
	return bundle, nil
}

// decodeToken maps the Withings envelope to a bundle with an absolute expiry
func (c *OAuthClient) decodeToken(data tokenResponse) (core.TokenBundle, error) {
	if data.Status == nil {
		return core.TokenBundle{}, fmt.Errorf("%w: token response without status", core.ErrDecode)
	}
	if *data.Status != 0 {
		code := data.Error
		if code == "" {
			code = "unknown_error"
		}
		return core.TokenBundle{}, &core.ProviderError{Status: *data.Status, Code: code, Message: code}
	}

	var body tokenBody
	if len(data.Body) == 0 || json.Unmarshal(data.Body, &body) != nil {
		return core.TokenBundle{}, &core.ProviderError{Message: "invalid_token_response"}
	}
	if body.AccessToken == "" || body.RefreshToken == "" || body.ExpiresIn == nil {
		return core.TokenBundle{}, &core.ProviderError{Message: "invalid_token_response"}
	}

	scope := body.Scope
	if scope == "" {
		scope = c.scopes
	}

	return core.TokenBundle{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(*body.ExpiresIn) * time.Second).UnixMilli(),
		Scope:        scope,
	}, nil
}

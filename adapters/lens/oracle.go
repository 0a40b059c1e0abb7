// Package lens answers profile ownership questions against the Lens GraphQL API.
package lens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/medoxie/gateway/core"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

const accountQuery = `query Account($request: AccountRequest!) {
  account(request: $request) {
    address
    owner
    metadata {
      attributes {
        key
        value
      }
    }
  }
}`

// userIDAttributeKeys are checked in order when resolving a user id from metadata
var userIDAttributeKeys = []string{"WithingsEmail", "Withings", "Email", "email"}

// Config holds the Lens API endpoint
type Config struct {
	APIURL     string
	HTTPClient *http.Client
}

// Oracle implements ports.OwnershipOracle and ports.UserIDResolver
type Oracle struct {
	apiURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOracle creates a Lens ownership oracle
func NewOracle(cfg Config, logger *zap.Logger) *Oracle {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Oracle{
		apiURL:     cfg.APIURL,
		httpClient: httpClient,
		logger:     logger.Named("lens_oracle"),
	}
}

type account struct {
	Address  string `json:"address"`
	Owner    string `json:"owner"`
	Metadata *struct {
		Attributes []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"attributes"`
	} `json:"metadata"`
}

type graphQLResponse struct {
	Data *struct {
		Account *account `json:"account"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Owns reports whether address controls the Lens account profileID.
// The wallet may be the account owner or the account itself.
func (o *Oracle) Owns(ctx context.Context, address, profileID string) (bool, error) {
	acc, err := o.fetchAccount(ctx, profileID)
	if err != nil {
		return false, err
	}
	if acc == nil || acc.Address == "" {
		o.logger.Info("lens account not found", zap.String("profile_id", profileID))
		return false, nil
	}

	wallet := strings.ToLower(address)
	owns := strings.ToLower(acc.Owner) == wallet || strings.ToLower(acc.Address) == wallet
	o.logger.Debug("lens ownership check",
		zap.String("profile_id", profileID),
		zap.String("address", wallet),
		zap.Bool("owns", owns),
	)
	return owns, nil
}

// ResolveUserID returns the Withings identity recorded in the account metadata
func (o *Oracle) ResolveUserID(ctx context.Context, profileID string) (string, error) {
	acc, err := o.fetchAccount(ctx, profileID)
	if err != nil {
		return "", err
	}
	if acc == nil || acc.Metadata == nil {
		return "", core.ErrUserUnresolved
	}

	for _, key := range userIDAttributeKeys {
		for _, attr := range acc.Metadata.Attributes {
			if attr.Key == key && attr.Value != "" {
				return attr.Value, nil
			}
		}
	}
	return "", core.ErrUserUnresolved
}

// fetchAccount returns nil when Lens knows no such account
func (o *Oracle) fetchAccount(ctx context.Context, profileID string) (*account, error) {
	payload, err := json.Marshal(map[string]any{
		"query": accountQuery,
		"variables": map[string]any{
			"request": map[string]string{"address": profileID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lens query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create lens request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Warn("lens request failed", zap.String("profile_id", profileID), zap.Error(err))
		return nil, fmt.Errorf("lens request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lens api returned status %d", resp.StatusCode)
	}

	var data graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: lens response: %v", core.ErrDecode, err)
	}
	if len(data.Errors) > 0 {
		return nil, fmt.Errorf("lens api error: %s", data.Errors[0].Message)
	}
	if data.Data == nil {
		return nil, fmt.Errorf("%w: lens response without data", core.ErrDecode)
	}
	return data.Data.Account, nil
}

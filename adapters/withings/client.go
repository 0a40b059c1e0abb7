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
	"github.com/medoxie/gateway/internal/metrics"
	"github.com/medoxie/gateway/ports"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const sleepDataFields = "hr,rr,snoring,hrv,breathing_disturbances,deepsleepduration," +
	"lightsleepduration,remsleepduration,wakeupduration,sleep_score,sleep_latency,sleep_efficiency"

// DataClient implements ports.HealthDataClient
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDataClient creates a Withings health-data client
func NewDataClient(cfg Config, logger *zap.Logger) ports.HealthDataClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &DataClient{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type apiResponse struct {
	Status  *int            `json:"status"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body"`
}

// Sleep returns the sleep summaries between startDate and endDate (unix seconds)
func (c *DataClient) Sleep(ctx context.Context, accessToken, startDate, endDate string) (map[string]any, error) {
	var body map[string]any
	err := c.call(ctx, "/v2/sleep", "getsummary", url.Values{
		"startdate":   {startDate},
		"enddate":     {endDate},
		"data_fields": {sleepDataFields},
	}, accessToken, &body)
	return body, err
}

// Activity returns the daily activity aggregates between startDate and endDate
func (c *DataClient) Activity(ctx context.Context, accessToken, startDate, endDate string) (map[string]any, error) {
	var body map[string]any
	err := c.call(ctx, "/v2/measure", "getactivity", url.Values{
		"startdate": {startDate},
		"enddate":   {endDate},
	}, accessToken, &body)
	return body, err
}

type measureBody struct {
	MeasureGroups []struct {
		GroupID  int64 `json:"grpid"`
		Date     int64 `json:"date"`
		Category int   `json:"category"`
		Measures []struct {
			Value *int64 `json:"value"`
			Type  *int   `json:"type"`
			Unit  *int32 `json:"unit"`
		} `json:"measures"`
	} `json:"measuregrps"`
	More       int    `json:"more"`
	Offset     int    `json:"offset"`
	Timezone   string `json:"timezone"`
	UpdateTime int64  `json:"updatetime"`
}

// Measures returns body measurements between startDate and endDate.
// Withings encodes each value as an integer mantissa and a power-of-ten unit.
func (c *DataClient) Measures(ctx context.Context, accessToken, startDate, endDate string) (core.MeasureBody, error) {
	var body measureBody
	err := c.call(ctx, "/v2/measure", "getmeas", url.Values{
		"startdate": {startDate},
		"enddate":   {endDate},
	}, accessToken, &body)
	if err != nil {
		return core.MeasureBody{}, err
	}

	groups := make([]core.MeasureGroup, 0, len(body.MeasureGroups))
	for _, grp := range body.MeasureGroups {
		group := core.MeasureGroup{
			GroupID:  grp.GroupID,
			Date:     grp.Date,
			Category: grp.Category,
			Measures: make([]core.Measure, 0, len(grp.Measures)),
		}
		for _, m := range grp.Measures {
			if m.Value == nil || m.Type == nil || m.Unit == nil {
				return core.MeasureBody{}, fmt.Errorf("%w: measure in group %d lacks value, type or unit", core.ErrDecode, grp.GroupID)
			}
			group.Measures = append(group.Measures, core.Measure{
				Type:  *m.Type,
				Value: decimal.New(*m.Value, *m.Unit),
			})
		}
		groups = append(groups, group)
	}

	return core.MeasureBody{
		MeasureGroups: groups,
		More:          body.More,
		Offset:        body.Offset,
		Timezone:      body.Timezone,
		UpdateTime:    body.UpdateTime,
	}, nil
}

// call posts a Withings action and decodes the envelope body into out
func (c *DataClient) call(ctx context.Context, path, action string, params url.Values, accessToken string, out any) error {
	params.Set("action", action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(action, "transport_error", start)
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	var data apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&data)

	switch {
	case decodeErr == nil && data.Status != nil && *data.Status != 0:
		observe(action, "api_error", start)
		msg := data.Message
		if msg == "" {
			msg = data.Error
		}
		if msg == "" {
			msg = "Withings API error"
		}
		c.logger.Info("withings api error",
			zap.String("action", action),
			zap.Int("status", *data.Status),
			zap.String("error", data.Error),
		)
		return &core.ProviderError{Status: *data.Status, Code: data.Error, Message: msg}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		observe(action, "http_error", start)
		return &core.ProviderError{Status: resp.StatusCode, Message: "Withings API error"}

	case decodeErr != nil:
		observe(action, "decode_error", start)
		return fmt.Errorf("%w: %s response: %v", core.ErrDecode, action, decodeErr)

	case len(data.Body) == 0 || string(data.Body) == "null":
		observe(action, "empty_body", start)
		return &core.ProviderError{Message: "Withings API returned empty body"}
	}

	if err := json.Unmarshal(data.Body, out); err != nil {
		observe(action, "decode_error", start)
		return fmt.Errorf("%w: %s body: %v", core.ErrDecode, action, err)
	}

	observe(action, "ok", start)
	return nil
}

func observe(action, result string, start time.Time) {
	metrics.ProviderRequestsTotal.WithLabelValues(action, result).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

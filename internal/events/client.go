package events

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// apiTimeFormat is the millisecond-precision UTC format the Events Source
// expects in its window parameters.
const apiTimeFormat = "2006-01-02T15:04:05.000Z"

// fetchWindows are the lookback windows tried in order until enough active
// vehicles are found. The widest window covers the 72h maintenance dwell
// plus margin for late event delivery.
var fetchWindows = []time.Duration{
	2 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	72 * time.Hour,
	168 * time.Hour,
}

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// Config holds the Events Source connection parameters.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	PageSize     int
	// MinActiveVehicles is the threshold below which the client widens the
	// fetch window before settling for what it has.
	MinActiveVehicles int
	Timeout           time.Duration
}

// FetchResult carries the mapped presence records plus counters for the run
// summary.
type FetchResult struct {
	Records       []models.PresenceRecord
	EventsFetched int
	Skipped       int
	WindowHours   int
}

// Client fetches vehicle presence events from the external fleet API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     logger,
	}
}

// tokenResponse is the OAuth2 client-credentials response. The provider
// returns the usable credential in id_token, not access_token.
type tokenResponse struct {
	IDToken string `json:"id_token"`
}

type pageResponse struct {
	Content    []rawEvent `json:"content"`
	TotalPages int        `json:"totalPages"`
}

type rawEvent struct {
	FenceDescription string `json:"fenceDescription"`
	VehiclePlate     string `json:"vehiclePlate"`
	DateInFence      string `json:"dateInFence"`
	DateOutFence     string `json:"dateOutFence"`
	Status           int    `json:"status"`
	PontoNotavelID   int64  `json:"pontoNotavelId"`
}

// FetchActive returns presence records covering the verification time,
// widening the lookback window until MinActiveVehicles is reached or the
// widest window has been tried. The widest window's result is returned even
// when below the threshold.
func (c *Client) FetchActive(ctx context.Context, now time.Time) (*FetchResult, error) {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain events token: %w", err)
	}

	var last *FetchResult
	var lastErr error

	for _, window := range fetchWindows {
		result, err := c.fetchWindow(ctx, token, now, window)
		if err != nil {
			c.logger.Warn("Events fetch window failed",
				zap.Duration("window", window),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		last = result

		active := 0
		for _, rec := range result.Records {
			if rec.StillPresent {
				active++
			}
		}
		if active >= c.config.MinActiveVehicles {
			c.logger.Info("Events fetch complete",
				zap.Int("window_hours", result.WindowHours),
				zap.Int("events", result.EventsFetched),
				zap.Int("active_vehicles", active),
				zap.Int("skipped", result.Skipped),
			)
			return result, nil
		}

		c.logger.Info("Widening events fetch window",
			zap.Int("window_hours", result.WindowHours),
			zap.Int("active_vehicles", active),
			zap.Int("min_required", c.config.MinActiveVehicles),
		)
	}

	if last == nil {
		return nil, fmt.Errorf("all fetch windows failed: %w", lastErr)
	}

	c.logger.Warn("Events fetch below active-vehicle threshold, using widest window",
		zap.Int("window_hours", last.WindowHours),
		zap.Int("records", len(last.Records)),
	)
	return last, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"grant_type": "client_credentials"})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.config.ClientID + ":" + c.config.ClientSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doWithRetry(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.IDToken == "" {
		return "", fmt.Errorf("token response missing id_token")
	}
	return tr.IDToken, nil
}

func (c *Client) fetchWindow(ctx context.Context, token string, now time.Time, window time.Duration) (*FetchResult, error) {
	start := now.Add(-window).UTC()
	end := now.UTC()

	result := &FetchResult{WindowHours: int(window / time.Hour)}

	for page := 1; ; page++ {
		pr, err := c.fetchPage(ctx, token, start, end, page)
		if err != nil {
			return nil, err
		}

		result.EventsFetched += len(pr.Content)
		for _, ev := range pr.Content {
			rec, ok := c.mapEvent(ev)
			if !ok {
				result.Skipped++
				continue
			}
			result.Records = append(result.Records, rec)
		}

		if page >= pr.TotalPages || len(pr.Content) == 0 {
			break
		}
	}

	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, token string, start, end time.Time, page int) (*pageResponse, error) {
	params := url.Values{}
	params.Set("startUpdatedAtTimestamp", start.Format(apiTimeFormat))
	params.Set("endUpdatedAtTimestamp", end.Format(apiTimeFormat))
	params.Set("page", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(c.config.PageSize))
	params.Set("sort", "updatedAt,desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events endpoint returned status %d for page %d", resp.StatusCode, page)
	}

	var pr pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode events page %d: %w", page, err)
	}
	return &pr, nil
}

// doWithRetry retries transient failures (network errors and 5xx) with
// doubling backoff. 4xx responses are returned to the caller untouched.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		if attempt < maxAttempts {
			c.logger.Warn("Events request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// mapEvent converts one raw API event into a PresenceRecord. Events with a
// missing plate or unparseable entry timestamp are dropped as malformed.
func (c *Client) mapEvent(ev rawEvent) (models.PresenceRecord, bool) {
	if ev.VehiclePlate == "" || ev.DateInFence == "" {
		return models.PresenceRecord{}, false
	}

	entry, err := time.Parse(time.RFC3339, ev.DateInFence)
	if err != nil {
		c.logger.Debug("Skipping event with malformed entry timestamp",
			zap.String("plate", ev.VehiclePlate),
			zap.String("date_in_fence", ev.DateInFence),
		)
		return models.PresenceRecord{}, false
	}

	rec := models.PresenceRecord{
		VehiclePlate:   ev.VehiclePlate,
		POI:            ev.FenceDescription,
		EntryTimestamp: entry.UTC(),
		StillPresent:   ev.Status == 1,
		EventID:        ev.PontoNotavelID,
	}

	if ev.DateOutFence != "" {
		if exit, err := time.Parse(time.RFC3339, ev.DateOutFence); err == nil {
			exitUTC := exit.UTC()
			rec.ExitTimestamp = &exitUTC
		}
	}

	return rec, true
}

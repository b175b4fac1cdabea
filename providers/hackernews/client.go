package hackernews

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"hn-digest/config"
	"hn-digest/models"

	"go.uber.org/zap"
)

var (
	// ErrNotFound wird geliefert, wenn die API für eine ID null zurückgibt.
	ErrNotFound = errors.New("hackernews: item not found")
	// ErrFeedUnavailable wird nach erschöpften Wiederholungen geliefert.
	ErrFeedUnavailable = errors.New("hackernews: feed unavailable")
)

// Client kapselt die Logik für die Hacker-News-Firebase-API.
type Client struct {
	BaseURL     string
	MaxAttempts int
	RetryBase   time.Duration
	Logger      *zap.Logger

	httpClient *http.Client
}

// NewClient erstellt einen neuen Feed-Client aus der Konfiguration.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:     cfg.HNBaseURL,
		MaxAttempts: cfg.HNMaxAttempts,
		RetryBase:   cfg.HNRetryBase,
		Logger:      logger,
		httpClient:  &http.Client{Timeout: cfg.HNRequestTimeout},
	}
}

// ListTopItemIDs liefert die Top-Stories in Feed-Reihenfolge.
func (c *Client) ListTopItemIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	found, err := c.getJSON(ctx, "/topstories.json", &ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("topstories: %w", ErrFeedUnavailable)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// FetchItem holt einen einzelnen Eintrag (Story oder Kommentar).
func (c *Client) FetchItem(ctx context.Context, id int64) (*models.RawItem, error) {
	var item models.RawItem
	found, err := c.getJSON(ctx, fmt.Sprintf("/item/%d.json", id), &item)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return &item, nil
}

// getJSON führt einen GET mit Wiederholungen aus. found ist false, wenn der Body "null" ist.
func (c *Client) getJSON(ctx context.Context, path string, out any) (bool, error) {
	url := c.BaseURL + path
	attempts := max(c.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, retry, err := c.get(ctx, url)
		if err == nil {
			if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
				return false, nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return false, fmt.Errorf("antwort nicht lesbar: %w", err)
			}
			return true, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			wait := c.backoff(attempt)
			c.Logger.Debug("Feed-Anfrage fehlgeschlagen, neuer Versuch.",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return false, fmt.Errorf("%w: %w", ErrFeedUnavailable, ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return false, fmt.Errorf("%w: %w", ErrFeedUnavailable, lastErr)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("hackernews request failed with status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// backoff berechnet eine exponentielle Wartezeit mit vollem Jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.RetryBase << (attempt - 1)
	if base <= 0 {
		return 0
	}
	return base/2 + rand.N(base/2+1)
}

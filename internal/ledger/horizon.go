package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/Stellara/internal/domain"
	"golang.org/x/time/rate"
)

// Значения по умолчанию.
const (
	DefaultHorizonURL   = "https://horizon-testnet.stellar.org"
	DefaultPageSize     = 200
	DefaultPollInterval = 5 * time.Second
	DefaultRateLimit    = 2 // запросов в секунду

	defaultRequestTimeout = 15 * time.Second
	maxPageBody           = 8 * 1024 * 1024
)

// HorizonConfig — конфигурация HorizonClient.
type HorizonConfig struct {
	// BaseURL — адрес Horizon (default: testnet).
	BaseURL string

	// PageSize — записей за запрос, 1..200 (default: 200).
	PageSize int

	// PollInterval — пауза после пустой страницы (default: 5s).
	PollInterval time.Duration

	// RateLimit — лимит запросов в секунду (default: 2).
	RateLimit float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HorizonClient опрашивает /operations Horizon.
type HorizonClient struct {
	baseURL      string
	pageSize     int
	pollInterval time.Duration
	limiter      *rate.Limiter
	http         *http.Client
	logger       *slog.Logger
}

// NewHorizonClient создаёт клиент.
func NewHorizonClient(cfg HorizonConfig) *HorizonClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultHorizonURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HorizonClient{
		baseURL:      baseURL,
		pageSize:     pageSize,
		pollInterval: poll,
		limiter:      rate.NewLimiter(rate.Limit(limit), 1),
		http:         client,
		logger:       logger,
	}
}

// operationsPage — HAL-ответ Horizon.
type operationsPage struct {
	Embedded struct {
		Records []json.RawMessage `json:"records"`
	} `json:"_embedded"`
}

type recordHeader struct {
	ID          string `json:"id"`
	PagingToken string `json:"paging_token"`
}

// Subscribe реализует Client.
func (c *HorizonClient) Subscribe(ctx context.Context, cursor int64) (<-chan RawEntry, <-chan error) {
	entries := make(chan RawEntry)
	errs := make(chan error, 1)

	go func() {
		defer close(entries)

		for {
			page, err := c.fetch(ctx, cursor, "asc", c.pageSize)
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}

			for _, rec := range page {
				select {
				case entries <- rec:
				case <-ctx.Done():
					return
				}
				if seq, err := strconv.ParseInt(rec.PagingToken, 10, 64); err == nil && seq > cursor {
					cursor = seq
				}
			}

			// Полная страница — сразу за следующей
			if len(page) == c.pageSize {
				continue
			}

			t := time.NewTimer(c.pollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()

	return entries, errs
}

// CurrentCursor реализует Client.
func (c *HorizonClient) CurrentCursor(ctx context.Context) (int64, error) {
	page, err := c.fetch(ctx, 0, "desc", 1)
	if err != nil {
		return 0, err
	}
	if len(page) == 0 {
		return 0, nil
	}
	seq, err := strconv.ParseInt(page[0].PagingToken, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: paging token %q", ErrParse, page[0].PagingToken)
	}
	return seq, nil
}

func (c *HorizonClient) fetch(ctx context.Context, cursor int64, order string, limit int) ([]RawEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("order", order)
	q.Set("limit", strconv.Itoa(limit))
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/operations?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/hal+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("horizon request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read horizon response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("horizon: unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var page operationsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: page: %v", ErrParse, err)
	}

	out := make([]RawEntry, 0, len(page.Embedded.Records))
	for _, rec := range page.Embedded.Records {
		var h recordHeader
		// Битая запись уходит дальше как есть: Normalize её отбракует
		_ = json.Unmarshal(rec, &h)
		out = append(out, RawEntry{ID: h.ID, PagingToken: h.PagingToken, Body: rec})
	}

	c.logger.Debug("horizon page fetched", "cursor", cursor, "order", order, "records", len(out))
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Client = (*HorizonClient)(nil)

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"wb-price-watcher/internal/metrics"
	domain "wb-price-watcher/pkg/types"
)

const (
	defaultCardURL      = "https://card.wb.ru/cards/v2/detail"
	defaultMaxBatchSize = 100
)

// defaultQuery carries the fixed card API parameters; nm is appended per call.
var defaultQuery = url.Values{
	"appType":    {"1"},
	"curr":       {"rub"},
	"dest":       {"-1257786"},
	"spp":        {"30"},
	"lang":       {"ru"},
	"ab_testing": {"false"},
}

// CardClient implements Client against the Wildberries card API. One GET
// serves a whole batch of product ids joined with ";" in the nm parameter.
type CardClient struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	maxBatch int
	log      *slog.Logger
}

// CardOption configures the CardClient.
type CardOption func(*CardClient)

// WithBaseURL overrides the default card API endpoint.
func WithBaseURL(u string) CardOption {
	return func(c *CardClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) CardOption {
	return func(c *CardClient) {
		c.client = hc
	}
}

// WithRateLimit installs a courtesy token-bucket limiter; every FetchBatch
// call waits on it before hitting the API.
func WithRateLimit(perSecond float64, burst int) CardOption {
	return func(c *CardClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxBatchSize caps how many product ids one request may carry.
func WithMaxBatchSize(n int) CardOption {
	return func(c *CardClient) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) CardOption {
	return func(c *CardClient) {
		c.log = l
	}
}

// NewCardClient creates a new Wildberries card API client.
func NewCardClient(opts ...CardOption) *CardClient {
	c := &CardClient{
		baseURL:  defaultCardURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBatch: defaultMaxBatchSize,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxBatchSize returns the largest id batch one request may carry.
func (c *CardClient) MaxBatchSize() int {
	return c.maxBatch
}

// Wire shapes of the card API response.
type cardResponse struct {
	Data struct {
		Products []cardProduct `json:"products"`
	} `json:"data"`
}

type cardProduct struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Sizes []cardSize `json:"sizes"`
}

type cardSize struct {
	OrigName string     `json:"origName"`
	Price    *cardPrice `json:"price"`
}

type cardPrice struct {
	Total int64 `json:"total"`
}

// FetchBatch implements Client.FetchBatch. Ids beyond MaxBatchSize are
// rejected; callers partition beforehand.
func (c *CardClient) FetchBatch(
	ctx context.Context,
	ids []int64,
) (map[int64]domain.Product, error) {
	if len(ids) == 0 {
		return map[int64]domain.Product{}, nil
	}
	if len(ids) > c.maxBatch {
		return nil, fmt.Errorf("batch of %d exceeds max %d", len(ids), c.maxBatch)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	u := c.buildURL(ids)

	var parsed cardResponse
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("creating request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			metrics.SourceCallsTotal.Inc()

			resp, err := c.client.Do(req)
			if err != nil {
				c.log.Warn("card API request failed, will retry", "error", err)
				return fmt.Errorf("card API request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				c.log.Warn("card API returned non-OK status, will retry",
					"status", resp.StatusCode,
				)
				return fmt.Errorf("card API status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading card API response: %w", err)
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decoding card API response: %w", err))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			c.log.Info("retrying card API fetch", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	return c.toProducts(parsed.Data.Products), nil
}

func (c *CardClient) buildURL(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	q := url.Values{}
	for k, vs := range defaultQuery {
		q[k] = vs
	}
	q.Set("nm", strings.Join(parts, ";"))

	return c.baseURL + "?" + q.Encode()
}

// toProducts converts wire products into domain products. A product with
// unusable data (no id, no purchasable size) is skipped with a log line
// rather than failing the batch; sizes without a price are dropped.
func (c *CardClient) toProducts(raw []cardProduct) map[int64]domain.Product {
	out := make(map[int64]domain.Product, len(raw))

	for _, p := range raw {
		if p.ID == 0 {
			c.log.Warn("card API product without id, skipping")
			continue
		}

		variants := make([]domain.Variant, 0, len(p.Sizes))
		for _, s := range p.Sizes {
			if s.Price == nil {
				continue
			}
			variants = append(variants, domain.Variant{
				Label: s.OrigName,
				Price: s.Price.Total,
			})
		}

		if len(variants) == 0 {
			c.log.Warn("card API product without purchasable sizes, skipping",
				"product_id", p.ID, "name", p.Name,
			)
			continue
		}

		out[p.ID] = domain.Product{ID: p.ID, Name: p.Name, Variants: variants}
	}

	return out
}

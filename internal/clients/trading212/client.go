// Package trading212 provides the Trading 212 history API client.
package trading212

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	rateLimitDelay   = 200 * time.Millisecond // minimum gap between requests
	requestQueueSize = 100
	defaultPageSize  = 50
	maxAttempts      = 5
	defaultBackoff   = 2 * time.Second

	ordersEndpoint       = "/api/v0/equity/history/orders"
	dividendsEndpoint    = "/api/v0/history/dividends"
	transactionsEndpoint = "/api/v0/history/transactions"
)

// APIError is returned when an endpoint keeps failing after retries
type APIError struct {
	Endpoint   string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trading212: %s returned status %d after %d attempts", e.Endpoint, e.StatusCode, maxAttempts)
}

// requestJob represents a job in the rate limiting queue
type requestJob struct {
	endpoint string // endpoint the page belongs to, for error reporting
	pagePath string // full request path including query parameters
	resultCh chan requestResult
}

// requestResult represents the result of a request
type requestResult struct {
	page *historyPage
	err  error
}

// Client fetches the three Trading 212 history endpoints. All requests go
// through a single worker so pacing and retries hold even when the endpoints
// are fetched concurrently.
type Client struct {
	baseURL      string
	authHeader   string
	httpClient   *http.Client
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
	retryBackoff time.Duration // initial backoff, doubled per attempt
}

// NewClient creates a new Trading 212 client. Authentication is a Basic-style
// header built from the resolved key/secret pair.
func NewClient(apiKey, apiSecret, baseURL string, log zerolog.Logger) *Client {
	credentials := base64.StdEncoding.EncodeToString([]byte(apiKey + ":" + apiSecret))

	c := &Client{
		baseURL:      baseURL,
		authHeader:   "Basic " + credentials,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With().Str("component", "trading212-client").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
		retryBackoff: defaultBackoff,
	}

	// Start the rate limiting worker
	go c.worker()

	return c
}

// FetchOrders returns all historical equity orders, oldest page last
func (c *Client) FetchOrders() ([]RawOrder, error) {
	items, err := c.fetchAll(ordersEndpoint)
	if err != nil {
		return nil, err
	}

	orders := make([]RawOrder, 0, len(items))
	for i, item := range items {
		var order RawOrder
		if err := json.Unmarshal(item, &order); err != nil {
			return nil, fmt.Errorf("failed to decode order item %d: %w", i, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// FetchDividends returns all dividend payments
func (c *Client) FetchDividends() ([]RawDividend, error) {
	items, err := c.fetchAll(dividendsEndpoint)
	if err != nil {
		return nil, err
	}

	dividends := make([]RawDividend, 0, len(items))
	for i, item := range items {
		var dividend RawDividend
		if err := json.Unmarshal(item, &dividend); err != nil {
			return nil, fmt.Errorf("failed to decode dividend item %d: %w", i, err)
		}
		dividends = append(dividends, dividend)
	}
	return dividends, nil
}

// FetchCashTransactions returns all cash movements (deposits, withdrawals, interest, fees)
func (c *Client) FetchCashTransactions() ([]RawCashTransaction, error) {
	items, err := c.fetchAll(transactionsEndpoint)
	if err != nil {
		return nil, err
	}

	transactions := make([]RawCashTransaction, 0, len(items))
	for i, item := range items {
		var tx RawCashTransaction
		if err := json.Unmarshal(item, &tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction item %d: %w", i, err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

// fetchAll walks an endpoint's pages via nextPagePath until the API signals
// the end of data, concatenating items in the order received
func (c *Client) fetchAll(endpoint string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	pagePath := fmt.Sprintf("%s?limit=%d", endpoint, defaultPageSize)

	for pagePath != "" {
		page, err := c.getPage(endpoint, pagePath)
		if err != nil {
			return nil, err
		}

		items = append(items, page.Items...)
		c.log.Debug().
			Str("endpoint", endpoint).
			Int("page_items", len(page.Items)).
			Int("total_items", len(items)).
			Msg("Fetched page")

		// nextPagePath already includes the limit and cursor parameters
		pagePath = page.NextPagePath
	}

	c.log.Info().Str("endpoint", endpoint).Int("items", len(items)).Msg("Endpoint fetched")
	return items, nil
}

// getPage requests a single page through the rate limiting queue
func (c *Client) getPage(endpoint, pagePath string) (*historyPage, error) {
	resultCh := make(chan requestResult, 1)

	job := requestJob{
		endpoint: endpoint,
		pagePath: pagePath,
		resultCh: resultCh,
	}

	select {
	case <-c.stopChan:
		return nil, fmt.Errorf("client is closed")
	default:
	}

	select {
	case c.requestQueue <- job:
		// Job queued successfully
	case <-c.stopChan:
		return nil, fmt.Errorf("client is closed")
	default:
		return nil, fmt.Errorf("request queue is full")
	}

	result := <-resultCh
	return result.page, result.err
}

// worker processes requests from the queue sequentially with rate limiting
func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequestTime time.Time
	firstRequest := true

	processJob := func(job requestJob) {
		// Wait for rate limit delay (except before first request)
		if !firstRequest {
			elapsed := time.Since(lastRequestTime)
			if elapsed < rateLimitDelay {
				time.Sleep(rateLimitDelay - elapsed)
			}
		}
		firstRequest = false

		var result requestResult
		result.page, result.err = c.getPageWithRetry(job.endpoint, job.pagePath)

		lastRequestTime = time.Now()

		job.resultCh <- result
	}

	for {
		select {
		case <-c.stopChan:
			// Drain remaining jobs from queue before exiting
			for {
				select {
				case job, ok := <-c.requestQueue:
					if !ok {
						return
					}
					processJob(job)
				default:
					return
				}
			}
		case job, ok := <-c.requestQueue:
			if !ok {
				return
			}
			processJob(job)
		}
	}
}

// Close gracefully shuts down the rate limiting worker
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}

// getPageWithRetry performs one page request, retrying throttling and server
// errors with a backoff that honors the Retry-After hint
func (c *Client) getPageWithRetry(endpoint, pagePath string) (*historyPage, error) {
	backoff := c.retryBackoff
	lastStatus := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		page, status, hint, err := c.getPageOnce(pagePath)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
		}
		if page != nil {
			return page, nil
		}

		lastStatus = status
		if status != http.StatusTooManyRequests && status < 500 {
			// Client errors other than throttling are not transient
			break
		}

		if attempt < maxAttempts {
			// A server-provided Retry-After hint overrides our own backoff
			delay := backoff
			if hint > 0 {
				delay = hint
			}
			c.log.Warn().
				Str("endpoint", endpoint).
				Int("status_code", status).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Transient API failure, retrying")
			time.Sleep(delay)
			backoff *= 2
		}
	}

	return nil, &APIError{Endpoint: endpoint, StatusCode: lastStatus}
}

// getPageOnce performs a single authenticated GET. A non-200 status returns
// (nil, status, hint, nil) so the caller decides whether to retry and how
// long to wait.
func (c *Client) getPageOnce(pagePath string) (*historyPage, int, time.Duration, error) {
	requestURL := c.baseURL + pagePath

	req, err := http.NewRequest(http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyStr := string(body)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("status", resp.Status).
			Str("response_body", bodyStr).
			Str("url", requestURL).
			Msg("API returned non-200 status")
		return nil, resp.StatusCode, retryAfter(resp), nil
	}

	var p historyPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("failed to parse response: %w", err)
	}

	return &p, resp.StatusCode, 0, nil
}

// retryAfter parses the Retry-After header as a delay in seconds
func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

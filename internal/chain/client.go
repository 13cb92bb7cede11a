// Package chain reads producer and voter records from a chain node's HTTP RPC.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// ErrNotFound is returned when the chain has no record of an account. It
// matches domain.ErrNotFound.
var ErrNotFound = fmt.Errorf("chain: %w", domain.ErrNotFound)

const (
	defaultPageSize = 1000
	maxPages        = 100
)

// Client defines the contract for querying the chain.
type Client interface {
	Producers(ctx context.Context) ([]domain.Producer, error)
	Voter(ctx context.Context, owner domain.Name) (domain.Voter, error)
}

// Options tunes an HTTPClient.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls; zero disables limiting.
	RequestsPerSecond float64
	PageSize          int
	Logger            *log.Logger
}

// HTTPClient implements Client over the chain's JSON RPC.
type HTTPClient struct {
	baseURL  *url.URL
	client   *http.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *log.Logger
}

// NewHTTPClient constructs a chain client rooted at baseURL.
func NewHTTPClient(baseURL string, opts Options) (*HTTPClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse chain url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse chain url: %q is not absolute", baseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := int(math.Ceil(opts.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &HTTPClient{
		baseURL: parsed,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		limiter:  limiter,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

// Producers pages through every registered producer.
func (c *HTTPClient) Producers(ctx context.Context) ([]domain.Producer, error) {
	var (
		out        []domain.Producer
		lowerBound string
	)
	for page := 0; page < maxPages; page++ {
		var resp producersResponse
		req := producersRequest{JSON: true, Limit: c.pageSize, LowerBound: lowerBound}
		if err := c.post(ctx, "/v1/chain/get_producers", req, &resp); err != nil {
			return nil, err
		}
		for _, row := range resp.Rows {
			p, err := convertProducer(row)
			if err != nil {
				c.logger.Printf("chain: skipping producer row %q: %v", row.Owner, err)
				continue
			}
			out = append(out, p)
		}
		if resp.More == "" || resp.More == lowerBound {
			return out, nil
		}
		lowerBound = resp.More
	}
	c.logger.Printf("chain: stopped paging producers after %d pages", maxPages)
	return out, nil
}

// Voter returns the voting record of owner from the system voters table.
func (c *HTTPClient) Voter(ctx context.Context, owner domain.Name) (domain.Voter, error) {
	req := tableRowsRequest{
		Code:       "eosio",
		Scope:      "eosio",
		Table:      "voters",
		LowerBound: owner.String(),
		Limit:      1,
		JSON:       true,
	}
	var resp votersResponse
	if err := c.post(ctx, "/v1/chain/get_table_rows", req, &resp); err != nil {
		return domain.Voter{}, err
	}
	// lower_bound returns the next row when owner has none.
	if len(resp.Rows) == 0 || resp.Rows[0].Owner != owner {
		return domain.Voter{}, ErrNotFound
	}
	row := resp.Rows[0]
	return domain.Voter{
		Owner:     row.Owner,
		Proxy:     row.Proxy,
		IsProxy:   row.IsProxy != 0,
		Producers: row.Producers,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chain: rate limit: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("chain: encode request: %w", err)
	}
	endpoint := *c.baseURL
	endpoint.Path += path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("chain: decode %s response: %w", path, err)
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Printf("chain: unexpected status %d for %s", resp.StatusCode, path)
		return fmt.Errorf("chain: upstream returned %d", resp.StatusCode)
	}
}

type producersRequest struct {
	JSON       bool   `json:"json"`
	Limit      int    `json:"limit"`
	LowerBound string `json:"lower_bound,omitempty"`
}

type producerRow struct {
	Owner      string `json:"owner"`
	TotalVotes string `json:"total_votes"`
	URL        string `json:"url"`
	IsActive   int    `json:"is_active"`
}

type producersResponse struct {
	Rows []producerRow `json:"rows"`
	More string        `json:"more"`
}

type tableRowsRequest struct {
	Code       string `json:"code"`
	Scope      string `json:"scope"`
	Table      string `json:"table"`
	LowerBound string `json:"lower_bound"`
	Limit      int    `json:"limit"`
	JSON       bool   `json:"json"`
}

type voterRow struct {
	Owner     domain.Name   `json:"owner"`
	Proxy     domain.Name   `json:"proxy"`
	Producers []domain.Name `json:"producers"`
	IsProxy   int           `json:"is_proxy"`
}

type votersResponse struct {
	Rows []voterRow `json:"rows"`
	More bool       `json:"more"`
}

// convertProducer maps an RPC row to a registry entry. A producer counts as
// active only when flagged active and holding at least one whole vote.
func convertProducer(row producerRow) (domain.Producer, error) {
	owner, err := domain.ParseName(row.Owner)
	if err != nil {
		return domain.Producer{}, err
	}

	votes, err := strconv.ParseFloat(strings.TrimSpace(row.TotalVotes), 64)
	if err != nil || math.IsNaN(votes) || math.IsInf(votes, 0) || votes < 0 {
		votes = 0
	}

	return domain.Producer{
		Owner:      owner,
		URL:        strings.TrimSpace(row.URL),
		TotalVotes: votes,
		Active:     row.IsActive == 1 && math.Trunc(votes) != 0,
	}, nil
}

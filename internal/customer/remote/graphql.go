package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
)

const listCustomersQuery = `
  query ListZellerCustomers($filter: TableZellerCustomerFilterInput, $limit: Int, $nextToken: String) {
    listZellerCustomers(filter: $filter, limit: $limit, nextToken: $nextToken) {
      items {
        id
        name
        email
        role
      }
      nextToken
    }
  }
`

const (
	defaultPageSize = 100
	defaultTimeout  = 15 * time.Second

	// maxPages stops a server that keeps handing out tokens.
	maxPages = 10000

	// maxResponseBytes bounds a single page response.
	maxResponseBytes = 32 << 20
)

func init() {
	Register(TypeGraphQL, func(cfg Config) (Fetcher, error) {
		return NewGraphQL(cfg)
	})
}

// GraphQL fetches customers from an AppSync-style GraphQL endpoint,
// following nextToken until the listing is exhausted.
type GraphQL struct {
	endpoint string
	apiKey   string
	pageSize int
	client   *http.Client
}

// NewGraphQL creates a GraphQL source. Endpoint is required.
func NewGraphQL(cfg Config) (*GraphQL, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("graphql remote requires an endpoint")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GraphQL{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// WithHTTPClient replaces the HTTP client. Useful for tests.
func (g *GraphQL) WithHTTPClient(c *http.Client) *GraphQL {
	g.client = c
	return g
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type listResponse struct {
	Data *struct {
		ListZellerCustomers *struct {
			Items     []schema.RawCustomer `json:"items"`
			NextToken *string              `json:"nextToken"`
		} `json:"listZellerCustomers"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// FetchAll implements Fetcher.
func (g *GraphQL) FetchAll(ctx context.Context) ([]schema.RawCustomer, error) {
	customers := []schema.RawCustomer{}
	seen := make(map[string]bool)
	var token *string

	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, g.fail(0, fmt.Errorf("gave up after %d pages", maxPages))
		}

		items, next, err := g.fetchPage(ctx, token)
		if err != nil {
			return nil, err
		}
		customers = append(customers, items...)

		if next == nil || *next == "" {
			return customers, nil
		}
		if seen[*next] {
			return nil, g.fail(0, fmt.Errorf("server repeated pagination token"))
		}
		seen[*next] = true
		token = next
	}
}

func (g *GraphQL) fetchPage(ctx context.Context, token *string) ([]schema.RawCustomer, *string, error) {
	vars := map[string]any{"limit": g.pageSize}
	if token != nil {
		vars["nextToken"] = *token
	}

	body, err := json.Marshal(graphqlRequest{Query: listCustomersQuery, Variables: vars})
	if err != nil {
		return nil, nil, g.fail(0, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, g.fail(0, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-api-key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, g.fail(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, g.fail(resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, g.fail(resp.StatusCode, fmt.Errorf("unexpected status: %s", snippet(data)))
	}

	var decoded listResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, nil, g.fail(0, fmt.Errorf("failed to parse response: %w", err))
	}

	if len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, nil, g.fail(0, errors.New(strings.Join(msgs, "; ")))
	}

	if decoded.Data == nil || decoded.Data.ListZellerCustomers == nil {
		return nil, nil, g.fail(0, fmt.Errorf("response has no listZellerCustomers data"))
	}

	conn := decoded.Data.ListZellerCustomers
	return conn.Items, conn.NextToken, nil
}

func (g *GraphQL) fail(status int, err error) error {
	return &RemoteError{Source: string(TypeGraphQL), StatusCode: status, Err: err}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// Package subgraph queries a Graph-node endpoint for on-chain option records.
//
// The client speaks plain GraphQL-over-HTTP: one POST with the query string,
// one JSON envelope back. Rows come out as RawOption with every scalar still
// in the string form graph-node serializes BigInt/BigDecimal fields in;
// numeric coercion is the pipeline's job, not the transport's.
package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultURL is the Hegic v888 subgraph hosted on The Graph.
const DefaultURL = "https://api.thegraph.com/subgraphs/name/ppunky/hegic-v888"

// DefaultQuery pulls the option fields the pipeline consumes. Graph-node caps
// page size at 1000; the pool's active set fits well inside one page.
const DefaultQuery = `{
  options(first: 1000) {
    id
    symbol
    status
    type
    strike
    expiration
    premium
    amount
  }
}`

// RawOption is one unprocessed option record as returned by the subgraph.
type RawOption struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	Type       string `json:"type"`
	Strike     string `json:"strike"`
	Expiration string `json:"expiration"`
	Premium    string `json:"premium"`
	Amount     string `json:"amount"`
}

// QueryError reports a non-success HTTP response from the graph endpoint,
// keeping both the status code and the query that caused it.
type QueryError struct {
	StatusCode int
	Query      string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed to run by returning code of %d: %s", e.StatusCode, e.Query)
}

// Client is a minimal Graph-node query client.
type Client struct {
	http *resty.Client
}

// NewClient builds a client against the subgraph at url. A zero timeout
// leaves the transport default in place.
func NewClient(url string, timeout time.Duration) *Client {
	c := resty.New().SetBaseURL(url)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

// Options executes query and returns the rows under data.options.
//
// A non-2xx response yields a *QueryError; a 2xx body without the expected
// data.options path yields a plain error. Either way no partial result is
// returned.
func (c *Client) Options(ctx context.Context, query string) ([]RawOption, error) {
	var envelope struct {
		Data *struct {
			Options []RawOption `json:"options"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"query": query}).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("subgraph query: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &QueryError{StatusCode: resp.StatusCode(), Query: query}
	}

	// Decoded by hand rather than via the client: graph nodes are sloppy
	// about response content types.
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, fmt.Errorf("subgraph response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, fmt.Errorf("subgraph query: %s", envelope.Errors[0].Message)
	}
	if envelope.Data == nil || envelope.Data.Options == nil {
		return nil, fmt.Errorf("subgraph query: response has no data.options")
	}
	return envelope.Data.Options, nil
}

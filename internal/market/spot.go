// Package market resolves the pipeline's market context: which underlying
// asset the pool trades, and its current USD spot price.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/valyala/fastjson"
)

// DefaultSpotURL is the CoinGecko simple-price API root.
const DefaultSpotURL = "https://api.coingecko.com/api/v3"

// SpotClient fetches USD spot quotes from a CoinGecko-compatible price API.
type SpotClient struct {
	http *resty.Client
}

// NewSpotClient builds a client against baseURL. A zero timeout leaves the
// transport default in place.
func NewSpotClient(baseURL string, timeout time.Duration) *SpotClient {
	c := resty.New().SetBaseURL(baseURL)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &SpotClient{http: c}
}

// Spot returns the current USD price of asset.
//
// The response body nests the quote under the asset id
// ({"ethereum":{"usd":2514.3}}), so the price is pulled out with a dynamic
// key lookup rather than a fixed struct.
func (c *SpotClient) Spot(ctx context.Context, asset Asset) (float64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":           string(asset),
			"vs_currencies": "usd",
		}).
		Get("/simple/price")
	if err != nil {
		return 0, fmt.Errorf("spot price fetch for %s: %w", asset, err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("spot price fetch for %s: status %d", asset, resp.StatusCode())
	}

	body, err := fastjson.ParseBytes(resp.Body())
	if err != nil {
		return 0, fmt.Errorf("spot price response for %s: %w", asset, err)
	}
	quote := body.Get(string(asset), "usd")
	if quote == nil {
		return 0, fmt.Errorf("spot price response for %s: missing %s.usd field", asset, asset)
	}
	price, err := quote.Float64()
	if err != nil {
		return 0, fmt.Errorf("spot price response for %s: %w", asset, err)
	}
	return price, nil
}

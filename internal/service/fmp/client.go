package fmp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	xhttp "TradePulse/pkg/http"
)

const Source = "fmp"

// Client reads prices from Financial Modeling Prep quote-short.
type Client struct {
	apiKey  string
	baseURL string
	http    *xhttp.Client
}

func New(apiKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (c *Client) Name() string { return Source }

type shortQuote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

func (c *Client) Fetch(ctx context.Context, symbol string) (*models.Reading, error) {
	if c.apiKey == "" {
		return nil, nil
	}
	var quotes []shortQuote
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		URL:         c.baseURL + "/api/v3/quote-short/" + url.PathEscape(symbol),
		QueryParams: map[string][]string{"apikey": {c.apiKey}},
	}, &quotes)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fmp %s: %v", models.ErrSourceUnavailable, symbol, err)
	}
	for _, q := range quotes {
		if strings.EqualFold(q.Symbol, symbol) && q.Price > 0 {
			return &models.Reading{Source: Source, Price: q.Price, Volume: q.Volume}, nil
		}
	}
	return nil, nil
}

package twelvedata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	xhttp "TradePulse/pkg/http"
)

const Source = "twelvedata"

// Client reads quotes from the Twelve Data /quote endpoint.
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

// Twelve Data encodes numbers as strings and reports errors in a 200 body.
type quote struct {
	Status        string `json:"status"`
	Code          int    `json:"code"`
	Message       string `json:"message"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
}

func (c *Client) Fetch(ctx context.Context, symbol string) (*models.Reading, error) {
	if c.apiKey == "" {
		return nil, nil
	}
	var q quote
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		URL:         c.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {symbol}, "apikey": {c.apiKey}},
	}, &q)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: twelvedata %s: %v", models.ErrSourceUnavailable, symbol, err)
	}
	if q.Status == "error" {
		return nil, fmt.Errorf("%w: twelvedata %s: code %d: %s", models.ErrSourceUnavailable, symbol, q.Code, q.Message)
	}

	price := num(q.Close)
	if price <= 0 {
		return nil, nil
	}
	return &models.Reading{
		Source:    Source,
		Price:     price,
		Open:      num(q.Open),
		High:      num(q.High),
		Low:       num(q.Low),
		Volume:    num(q.Volume),
		Change:    num(q.Change),
		ChangePct: num(q.PercentChange),
	}, nil
}

func num(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

package finnhub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	xhttp "TradePulse/pkg/http"
)

const Source = "finnhub"

// Client reads quotes from the Finnhub REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *xhttp.Client
}

// New creates a quote client. baseURL is e.g. https://finnhub.io/api/v1.
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

type quote struct {
	C  *float64 `json:"c"`
	D  float64  `json:"d"`
	DP float64  `json:"dp"`
	H  float64  `json:"h"`
	L  float64  `json:"l"`
	O  float64  `json:"o"`
	PC float64  `json:"pc"`
	V  float64  `json:"v"`
}

// Fetch returns the current quote. A zero or missing "c" means Finnhub has no data.
func (c *Client) Fetch(ctx context.Context, symbol string) (*models.Reading, error) {
	if c.apiKey == "" {
		return nil, nil
	}
	var q quote
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		URL:         c.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {symbol}, "token": {c.apiKey}},
	}, &q)
	if err != nil {
		return nil, sourceError(ctx, symbol, err)
	}
	if q.C == nil || *q.C <= 0 {
		return nil, nil
	}
	return &models.Reading{
		Source:    Source,
		Price:     *q.C,
		Open:      q.O,
		High:      q.H,
		Low:       q.L,
		Volume:    q.V,
		Change:    q.D,
		ChangePct: q.DP,
	}, nil
}

func sourceError(ctx context.Context, symbol string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("%w: finnhub %s: %v", models.ErrSourceUnavailable, symbol, err)
}

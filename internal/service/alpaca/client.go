package alpaca

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	xhttp "TradePulse/pkg/http"
)

// Client submits orders to the Alpaca trading API. It never retries.
type Client struct {
	baseURL string
	http    *xhttp.Client
}

func New(baseURL, apiKey, apiSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: xhttp.NewClient(
			xhttp.WithTimeout(timeout),
			xhttp.WithHeader("APCA-API-KEY-ID", apiKey),
			xhttp.WithHeader("APCA-API-SECRET-KEY", apiSecret),
		),
	}
}

type orderBody struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	FilledQty      string  `json:"filled_qty"`
	FilledAvgPrice *string `json:"filled_avg_price"`
}

// SubmitOrder posts req to /v2/orders.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	body := orderBody{
		Symbol:      req.Symbol,
		Qty:         strconv.Itoa(req.Qty),
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
	}
	var resp orderResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.baseURL + "/v2/orders",
		Body:   body,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("alpaca order %s %s: %w", req.Side, req.Symbol, err)
	}

	fill := &models.Fill{OrderID: resp.ID, Status: resp.Status}
	fill.FilledQty, _ = strconv.ParseFloat(resp.FilledQty, 64)
	if resp.FilledAvgPrice != nil {
		fill.FilledAvgPrice, _ = strconv.ParseFloat(*resp.FilledAvgPrice, 64)
	}
	return fill, nil
}

package orderbook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const defaultClientTimeout = 5 * time.Second

// Client talks to a remote matching engine over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type marketOrderRequest struct {
	Pair           string          `json:"pair"`
	Side           domain.Side     `json:"side"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	ReferencePrice decimal.Decimal `json:"referencePrice"`
	Account        string          `json:"account"`
}

type marketOrderResponse struct {
	Trades []domain.BookTrade `json:"trades"`
}

func pairPath(p domain.Pair) string {
	return url.PathEscape(p.Base + "-" + p.Quote)
}

func (c *Client) Depth(ctx context.Context, pair domain.Pair, levels int) (*domain.BookDepth, error) {
	endpoint := fmt.Sprintf("%s/orderbook/%s?depth=%d", c.baseURL, pairPath(pair), levels)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var depth domain.BookDepth
	if err := c.do(req, &depth); err != nil {
		return nil, fmt.Errorf("getOrderbook %s: %w", pair, err)
	}
	depth.Pair = pair
	return &depth, nil
}

func (c *Client) TopOfBook(ctx context.Context, pair domain.Pair, side domain.Side) (decimal.Decimal, bool, error) {
	depth, err := c.Depth(ctx, pair, 1)
	if err != nil {
		return decimal.Zero, false, err
	}
	levels := depth.Opposing(side)
	if len(levels) == 0 {
		return decimal.Zero, false, nil
	}
	return levels[0].Price, true, nil
}

func (c *Client) SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount, referencePrice decimal.Decimal, taker string) ([]domain.BookTrade, error) {
	body, err := sonic.Marshal(marketOrderRequest{
		Pair:           pair.String(),
		Side:           side,
		Type:           "market",
		Amount:         amount,
		ReferencePrice: referencePrice,
		Account:        taker,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp marketOrderResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("submitOrder %s: %w", pair, err)
	}
	return resp.Trades, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return sonic.Unmarshal(raw, out)
}

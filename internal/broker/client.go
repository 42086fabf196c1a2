package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tradeassist/options-engine/internal/models"
)

const defaultTimeout = 5 * time.Second

// Client talks to the upstream brokerage HTTP API. Every call is bounded by
// the client timeout; a timeout surfaces as an ordinary error and the engine
// treats it as an adapter failure.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logrus.Logger

	mu          sync.RWMutex
	accessToken string
}

// NewClient creates a broker client for the given API base URL.
func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	req.Header.Set("Authorization", "token "+c.apiKey+":"+token)
	req.Header.Set("X-Kite-Version", "3")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode broker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Status == "error" {
		return fmt.Errorf("broker error (%d): %s", resp.StatusCode, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode broker payload: %w", err)
		}
	}
	return nil
}

// Quote fetches quotes for a batch of EXCHANGE:SYMBOL keys.
func (c *Client) Quote(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	q := url.Values{}
	for _, k := range keys {
		q.Add("i", k)
	}
	out := make(map[string]models.Quote, len(keys))
	if err := c.get(ctx, "/quote", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}
	return out, nil
}

// Instruments downloads the full instrument dump.
func (c *Client) Instruments(ctx context.Context) ([]models.InstrumentRow, error) {
	var rows []models.InstrumentRow
	if err := c.get(ctx, "/instruments", nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch instruments: %w", err)
	}
	c.logger.WithField("rows", len(rows)).Info("instrument dump downloaded")
	return rows, nil
}

// PlaceOrder submits a regular order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	form := url.Values{
		"tradingsymbol":    {p.TradingSymbol},
		"exchange":         {p.Exchange},
		"transaction_type": {p.TransactionType},
		"quantity":         {strconv.Itoa(p.Quantity)},
		"order_type":       {p.OrderType},
		"product":          {p.Product},
	}
	if p.OrderType == models.OrderTypeLimit {
		form.Set("price", p.Price.String())
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := c.postForm(ctx, "/orders/regular", form, &data); err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}
	return data.OrderID, nil
}

// LoginURL returns the interactive login URL for the configured API key.
func (c *Client) LoginURL() string {
	return c.baseURL + "/connect/login?v=3&api_key=" + url.QueryEscape(c.apiKey)
}

// GenerateSession exchanges a request token for an access token.
func (c *Client) GenerateSession(ctx context.Context, requestToken, apiSecret string) (*Session, error) {
	form := url.Values{
		"api_key":       {c.apiKey},
		"request_token": {requestToken},
		"api_secret":    {apiSecret},
	}
	var s Session
	if err := c.postForm(ctx, "/session/token", form, &s); err != nil {
		return nil, fmt.Errorf("failed to generate session: %w", err)
	}
	return &s, nil
}

// SetAccessToken installs the session token used on subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// Verify interface compliance at compile time.
var _ Broker = (*Client)(nil)

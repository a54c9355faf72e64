package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/util"
)

// ErrRelay wraps any non-2xx answer from the relay.
var ErrRelay = errors.New("relay error")

// Client talks to a 0x v2 standard relayer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        util.OrNop(log),
	}
}

type fillsResponse struct {
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"perPage"`
	Records []FillItem `json:"records"`
}

// Fills returns recent fills of a market, newest first. Relays answer either
// a bare array or a paginated {records: [...]} envelope; both are accepted.
func (c *Client) Fills(ctx context.Context, pair string) ([]FillItem, error) {
	endpoint := fmt.Sprintf("%s/v2/markets/%s/fills", c.baseURL, url.PathEscape(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []FillItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode fills: %w", err)
		}
		return items, nil
	}
	var page fillsResponse
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	return page.Records, nil
}

// PostOrder submits a signed order to the relay's book.
func (c *Client) PostOrder(ctx context.Context, order SignedOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/orders", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debugw("relay_error", "path", req.URL.Path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %d: %s", ErrRelay, resp.StatusCode, string(body))
	}
	return body, nil
}

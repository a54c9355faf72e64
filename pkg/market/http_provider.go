package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrGateway wraps any non-2xx answer from the market gateway.
var ErrGateway = errors.New("market gateway error")

// HTTPProvider implements Provider against the market data gateway's JSON API.
// Notifications are delegated to an injected Notifier.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	account    string // wallet address the account lookups are made for
	notifier   Notifier
	log        *zap.SugaredLogger
}

type HTTPProviderConfig struct {
	BaseURL  string
	Account  string
	Timeout  time.Duration
	Notifier Notifier
	Logger   *zap.SugaredLogger
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewBus()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		account:    cfg.Account,
		notifier:   notifier,
		log:        log,
	}
}

type valueResponse struct {
	Value decimal.Decimal `json:"value"`
}

type nullValueResponse struct {
	Value decimal.NullDecimal `json:"value"`
}

type slippageRequest struct {
	Request  TradeRequest    `json:"request"`
	Estimate decimal.Decimal `json:"estimate"`
}

func keyQuery(key TradeTokenKey) url.Values {
	q := url.Values{}
	q.Set("asset", string(key.Asset))
	q.Set("unitOfAccount", string(key.UnitOfAccount))
	q.Set("positionType", key.PositionType.String())
	q.Set("leverage", strconv.Itoa(key.Leverage))
	q.Set("tokenize", strconv.FormatBool(key.TokenizeNeeded))
	q.Set("version", strconv.Itoa(key.Version))
	return q
}

func (p *HTTPProvider) GetMaxTradeValue(ctx context.Context, dir Direction, key TradeTokenKey, collateral Asset) (decimal.Decimal, error) {
	q := keyQuery(key)
	q.Set("direction", dir.String())
	q.Set("collateral", string(collateral))
	q.Set("account", p.account)
	var out valueResponse
	if err := p.get(ctx, "/v1/max-trade-value", q, &out); err != nil {
		return decimal.Zero, fmt.Errorf("max trade value: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetPTokenPrice(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error) {
	var out valueResponse
	if err := p.get(ctx, "/v1/ptoken/price", keyQuery(key), &out); err != nil {
		return decimal.Zero, fmt.Errorf("ptoken price: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetSwapRate(ctx context.Context, from, to Asset) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	q := url.Values{}
	q.Set("from", string(from))
	q.Set("to", string(to))
	var out valueResponse
	if err := p.get(ctx, "/v1/swap-rate", q, &out); err != nil {
		return decimal.Zero, fmt.Errorf("swap rate %s/%s: %w", from, to, err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetBaseAsset(key TradeTokenKey) Asset { return key.BaseAsset() }

func (p *HTTPProvider) GetTradedAmountEstimate(ctx context.Context, req TradeRequest) (decimal.Decimal, error) {
	var out valueResponse
	if err := p.post(ctx, "/v1/estimate/amount", req, &out); err != nil {
		return decimal.Zero, fmt.Errorf("traded amount estimate: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetTradeSlippageRate(ctx context.Context, req TradeRequest, estimate decimal.Decimal) (decimal.NullDecimal, error) {
	var out nullValueResponse
	if err := p.post(ctx, "/v1/estimate/slippage", slippageRequest{Request: req, Estimate: estimate}, &out); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("slippage rate: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetTradeFormExposure(ctx context.Context, req TradeRequest) (decimal.Decimal, error) {
	var out valueResponse
	if err := p.post(ctx, "/v1/estimate/exposure", req, &out); err != nil {
		return decimal.Zero, fmt.Errorf("exposure: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetAssetBalance(ctx context.Context, asset Asset) (decimal.Decimal, error) {
	var out valueResponse
	if err := p.get(ctx, "/v1/accounts/"+p.account+"/balances/"+string(asset), nil, &out); err != nil {
		return decimal.Zero, fmt.Errorf("%s balance: %w", asset, err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetEthBalance(ctx context.Context) (decimal.Decimal, error) {
	return p.GetAssetBalance(ctx, ETH)
}

func (p *HTTPProvider) GetPTokenBalance(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error) {
	var out valueResponse
	if err := p.get(ctx, "/v1/accounts/"+p.account+"/ptoken-balance", keyQuery(key), &out); err != nil {
		return decimal.Zero, fmt.Errorf("ptoken balance: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetInterestRate(ctx context.Context, key TradeTokenKey) (decimal.Decimal, error) {
	var out valueResponse
	if err := p.get(ctx, "/v1/ptoken/interest-rate", keyQuery(key), &out); err != nil {
		return decimal.Zero, fmt.Errorf("interest rate: %w", err)
	}
	return out.Value, nil
}

func (p *HTTPProvider) GetPTokenAddress(ctx context.Context, key TradeTokenKey) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := p.get(ctx, "/v1/ptoken/address", keyQuery(key), &out); err != nil {
		return "", fmt.Errorf("ptoken address: %w", err)
	}
	return out.Address, nil
}

func (p *HTTPProvider) CheckCollateralApproval(ctx context.Context, req TradeRequest) (bool, error) {
	var out struct {
		NeedsApproval bool `json:"needsApproval"`
	}
	if err := p.post(ctx, "/v1/accounts/"+p.account+"/approval-check", req, &out); err != nil {
		return false, fmt.Errorf("approval check: %w", err)
	}
	return out.NeedsApproval, nil
}

func (p *HTTPProvider) GetLatestDataPoint(ctx context.Context, key TradeTokenKey) (PriceDataPoint, error) {
	var out PriceDataPoint
	if err := p.get(ctx, "/v1/ptoken/latest", keyQuery(key), &out); err != nil {
		return PriceDataPoint{}, fmt.Errorf("latest data point: %w", err)
	}
	return out, nil
}

func (p *HTTPProvider) Subscribe(fn func(ProviderChanged)) (Subscription, error) {
	return p.notifier.Subscribe(fn)
}

func (p *HTTPProvider) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	reqURL := p.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	return p.doRequest(req, result)
}

func (p *HTTPProvider) post(ctx context.Context, endpoint string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.doRequest(req, result)
}

func (p *HTTPProvider) doRequest(req *http.Request, result interface{}) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.log.Debugw("gateway_error", "path", req.URL.Path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %d: %s", ErrGateway, resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)

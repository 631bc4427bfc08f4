package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/dcaflow/errs"
)

const (
	defaultPriceScale   = 6
	defaultHTTPTimeout  = 5 * time.Second
	defaultOracleRPS    = 10
	maxOracleRetries    = 4
	maxQuoteBodyBytes   = 1 << 16
)

// HTTPOracle fetches prices from a REST price feed. External feeds quote
// decimal strings; the adapter truncates them into integer micro-unit prices
// before they reach the engine.
type HTTPOracle struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	scale   int32
}

// HTTPOracleOption configures an HTTPOracle.
type HTTPOracleOption func(*HTTPOracle)

// WithHTTPClient overrides the HTTP client used for quote requests.
func WithHTTPClient(client *http.Client) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if client != nil {
			o.client = client
		}
	}
}

// WithRequestsPerSecond adjusts the outbound request throttle.
func WithRequestsPerSecond(rps float64) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithPriceScale sets the number of decimal places retained when truncating
// feed quotes into integer units.
func WithPriceScale(scale int32) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if scale >= 0 {
			o.scale = scale
		}
	}
}

// NewHTTPOracle creates an oracle client for the feed at baseURL.
func NewHTTPOracle(baseURL string, opts ...HTTPOracleOption) *HTTPOracle {
	o := &HTTPOracle{
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(defaultOracleRPS), 1),
		scale:   defaultPriceScale,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

type quotePayload struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

// Price implements Oracle. Transient transport failures are retried with
// exponential backoff; a 404 from the feed reports a missing quote.
func (o *HTTPOracle) Price(ctx context.Context, asset string) (uint64, bool, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return 0, false, fmt.Errorf("oracle throttle: %w", err)
	}

	endpoint := o.baseURL + "/prices/" + url.PathEscape(asset)
	payload, err := backoff.Retry(ctx, func() (quotePayload, error) {
		return o.fetch(ctx, endpoint)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxOracleRetries))
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("oracle fetch %s: %w", asset, err)
	}

	price, err := o.toMicroUnits(payload.Price)
	if err != nil {
		return 0, false, fmt.Errorf("oracle quote %s: %w", asset, err)
	}
	return price, true, nil
}

func (o *HTTPOracle) fetch(ctx context.Context, endpoint string) (quotePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return quotePayload{}, backoff.Permanent(err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return quotePayload{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return quotePayload{}, backoff.Permanent(errs.New("market/oracle", errs.CodeNotFound))
	case resp.StatusCode >= 500:
		return quotePayload{}, fmt.Errorf("oracle status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return quotePayload{}, backoff.Permanent(fmt.Errorf("oracle status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteBodyBytes))
	if err != nil {
		return quotePayload{}, err
	}
	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return quotePayload{}, backoff.Permanent(fmt.Errorf("decode quote: %w", err))
	}
	return payload, nil
}

// toMicroUnits truncates a decimal quote toward zero at the configured scale.
func (o *HTTPOracle) toMicroUnits(quote string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(quote))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", quote, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("negative quote %q", quote)
	}
	scaled := d.Shift(o.scale).Truncate(0)
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("quote %q overflows integer units", quote)
	}
	return bi.Uint64(), nil
}

package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/dcaflow/internal/observability"
)

// PriceFeed subscribes to a streaming price endpoint and keeps a cached
// oracle fresh. The cache doubles as the Oracle implementation consumed by
// the engine, so a feed outage degrades to last-known quotes rather than
// hard failures.
type PriceFeed struct {
	url   string
	cache *MemoryOracle
	scale int32
}

// NewPriceFeed creates a feed subscriber publishing into cache.
func NewPriceFeed(url string, cache *MemoryOracle, scale int32) *PriceFeed {
	if scale < 0 {
		scale = defaultPriceScale
	}
	return &PriceFeed{url: strings.TrimSpace(url), cache: cache, scale: scale}
}

type feedMessage struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

// Run maintains the stream connection with exponential backoff reconnection
// until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			observability.Log().Error("price feed dial", observability.F("url", f.url), observability.F("error", err))
			sleep := backoffCfg.NextBackOff()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}

		backoffCfg.Reset()
		if err := f.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			observability.Log().Error("price feed read", observability.F("error", err))
		}
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
	}
}

func (f *PriceFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg feedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			observability.Log().Debug("price feed decode", observability.F("error", err))
			continue
		}
		if err := f.apply(msg); err != nil {
			observability.Log().Debug("price feed quote", observability.F("asset", msg.Asset), observability.F("error", err))
		}
	}
}

func (f *PriceFeed) apply(msg feedMessage) error {
	asset := strings.TrimSpace(msg.Asset)
	if asset == "" {
		return fmt.Errorf("missing asset")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(msg.Price))
	if err != nil {
		return fmt.Errorf("parse %q: %w", msg.Price, err)
	}
	if d.Sign() < 0 {
		return fmt.Errorf("negative quote %q", msg.Price)
	}
	scaled := d.Shift(f.scale).Truncate(0).BigInt()
	if !scaled.IsUint64() {
		return fmt.Errorf("quote %q overflows integer units", msg.Price)
	}
	f.cache.SetPrice(asset, scaled.Uint64())
	return nil
}

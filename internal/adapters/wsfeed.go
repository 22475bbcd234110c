// Package adapters holds the out-of-core-scope MarketDataSource and
// MarketDataRepository implementations (spec.md §6.4, §1 Non-goals:
// "building or certifying specific provider connectors") kept here as
// reference implementations and test fixtures, not hardened production
// connectors.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riftlabs/marketcore/internal/market"
)

// wireTick is the JSON frame emitted by a websocket OHLCV feed, grounded
// on the teacher's stubs.WireEvent framing (internal/stubs/types.go)
// re-expressed over a websocket connection instead of SSE.
type wireTick struct {
	AssetId string  `json:"asset_id"`
	Ts      int64   `json:"ts_ms"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
}

// WSFeed is a MarketDataSource backed by a websocket server that streams
// wireTick frames on connect, filtered client-side by asset and window.
// Grounded on the teacher's stubs.SSEServer client-connect-and-replay
// shape (internal/stubs/sse_server.go), adapted from server-push SSE to a
// pull-style Fetch by buffering the stream and replaying on demand.
type WSFeed struct {
	endpoint string
	dialer   *websocket.Dialer

	mu  sync.Mutex
	buf map[market.AssetId][]market.OHLCVBar
}

// NewWSFeed constructs a WSFeed against a ws:// or wss:// endpoint. Call
// Run in a goroutine before the first Fetch to start ingesting ticks.
func NewWSFeed(endpoint string) *WSFeed {
	return &WSFeed{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		buf:      make(map[market.AssetId][]market.OHLCVBar),
	}
}

// Run connects and ingests ticks until ctx is canceled, reconnecting with
// backoff on transport errors. It never returns except via ctx.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.runOnce(ctx); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *WSFeed) runOnce(ctx context.Context) error {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return fmt.Errorf("wsfeed: bad endpoint: %w", err)
	}
	conn, _, err := f.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("wsfeed: dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("wsfeed: read: %w", err)
		}
		var tick wireTick
		if err := json.Unmarshal(data, &tick); err != nil {
			continue // malformed frame, skip rather than kill the connection
		}
		f.ingest(tick)
	}
}

func (f *WSFeed) ingest(t wireTick) {
	bar := market.OHLCVBar{
		AssetId:   market.AssetId(t.AssetId),
		Timestamp: t.Ts,
		Open:      t.Open,
		High:      t.High,
		Low:       t.Low,
		Close:     t.Close,
		Volume:    t.Volume,
		FetchedAt: time.Now(),
	}
	if bar.Validate() != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := bar.AssetId
	f.buf[id] = append(f.buf[id], bar)
	const maxBuffered = 5000
	if len(f.buf[id]) > maxBuffered {
		f.buf[id] = f.buf[id][len(f.buf[id])-maxBuffered:]
	}
}

// Fetch returns buffered bars for id within window, satisfying
// market.MarketDataSource.
func (f *WSFeed) Fetch(ctx context.Context, id market.AssetId, window market.Window) ([]market.OHLCVBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.buf[id]
	if window.Since.IsZero() {
		out := make([]market.OHLCVBar, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]market.OHLCVBar, 0, len(all))
	sinceMs := window.Since.UnixMilli()
	for _, b := range all {
		if b.Timestamp >= sinceMs {
			out = append(out, b)
		}
	}
	return out, nil
}

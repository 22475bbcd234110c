// Command feedstub runs a local websocket server that streams synthetic
// OHLCV ticks for a fixed set of demo assets, standing in for a real
// provider connection during development (spec.md §1 Non-goals: "building
// or certifying specific provider connectors"). Grounded on the teacher's
// stubs.SSEServer (internal/stubs/sse_server.go), re-expressed over
// gorilla/websocket instead of Server-Sent Events.
package main

import (
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tick struct {
	AssetId string  `json:"asset_id"`
	Ts      int64   `json:"ts_ms"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
}

type assetGen struct {
	id    string
	price float64
	rng   *rand.Rand
}

func (g *assetGen) next(now time.Time) tick {
	drift := (g.rng.Float64() - 0.5) * g.price * 0.004
	open := g.price
	close := g.price + drift
	hi := math.Max(open, close) * (1 + g.rng.Float64()*0.0008)
	lo := math.Min(open, close) * (1 - g.rng.Float64()*0.0008)
	g.price = close
	return tick{
		AssetId: g.id,
		Ts:      now.UnixMilli(),
		Open:    open,
		High:    hi,
		Low:     lo,
		Close:   close,
		Volume:  500 + g.rng.Float64()*5000,
	}
}

func main() {
	addr := os.Getenv("FEEDSTUB_ADDR")
	if addr == "" {
		addr = ":8089"
	}

	generators := []*assetGen{
		{id: "bitcoin", price: 50000, rng: rand.New(rand.NewSource(1))},
		{id: "ethereum", price: 3000, rng: rand.New(rand.NewSource(2))},
		{id: "solana", price: 150, rng: rand.New(rand.NewSource(3))},
	}

	http.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("feedstub: upgrade: %v", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			now := time.Now()
			for _, g := range generators {
				if err := conn.WriteJSON(g.next(now)); err != nil {
					return
				}
			}
		}
	})

	log.Printf("feedstub: listening on %s/feed", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("feedstub: %v", err)
	}
}

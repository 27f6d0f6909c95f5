package pricefeed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Streamer keeps the feed cache warm from the Binance bookTicker stream so
// scan cycles rarely pay a REST round-trip for the native-asset price.
type Streamer struct {
	url    string
	feed   *Feed
	log    *zap.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewStreamer(url string, feed *Feed, log *zap.Logger) *Streamer {
	return &Streamer{
		url:  strings.TrimRight(url, "/"),
		feed: feed,
		log:  log,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
	}
}

func (s *Streamer) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	c, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.conn = c
	_ = s.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	return nil
}

func (s *Streamer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Run reads ticker frames until ctx is done, reconnecting with a fixed
// delay on read failure. Mid price of bid/ask is pushed into the feed.
func (s *Streamer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.close()
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.log.Warn("price stream dial failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		s.readLoop(ctx)
		s.close()
	}
}

type bookTicker struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

func (s *Streamer) readLoop(ctx context.Context) {
	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingStop:
				return
			case <-t.C:
				s.mu.Lock()
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
				s.mu.Unlock()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Warn("price stream read failed", zap.Error(err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var bt bookTicker
		if json.Unmarshal(data, &bt) != nil {
			continue
		}
		bid, err1 := strconv.ParseFloat(bt.Bid, 64)
		ask, err2 := strconv.ParseFloat(bt.Ask, 64)
		if err1 != nil || err2 != nil || bid == 0 || ask == 0 {
			continue
		}
		s.feed.SetLive(0.5 * (bid + ask))
	}
}

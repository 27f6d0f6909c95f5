package tradelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Stream keeps roughly this many most recent trades.
const maxStreamLen = 500

// DayStats aggregates today's executed attempts for the risk governor.
type DayStats struct {
	Trades    int
	Successes int
	NetUSD    float64
}

// Log is the append-only trade record: a capped Redis stream, mirrored to a
// local JSONL file so a lost Redis never loses history.
type Log struct {
	rdb    *redis.Client
	stream string
	file   string
	log    *zap.Logger
	now    func() time.Time
}

func New(cfg *config.Config, log *zap.Logger) *Log {
	l := &Log{
		stream: cfg.Redis.Stream,
		file:   cfg.TradeLogFile,
		log:    log,
		now:    time.Now,
	}
	if cfg.Redis.Addr != "" {
		l.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
		})
	}
	return l
}

// Append records one attempt. History is never rewritten; the stream cap
// only drops the oldest entries.
func (l *Log) Append(ctx context.Context, e types.TradeLogEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal trade entry: %w", err)
	}

	if l.file != "" {
		if err := l.appendFile(payload); err != nil {
			l.log.Warn("trade log file append failed", zap.Error(err))
		}
	}

	if l.rdb == nil {
		return nil
	}
	err = l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":    string(payload),
			"pair":    e.Pair,
			"success": e.Success,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd trade entry: %w", err)
	}
	return nil
}

func (l *Log) appendFile(payload []byte) error {
	f, err := os.OpenFile(l.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(payload, '\n'))
	return err
}

// Today sums the current calendar day's attempts from the stream. With no
// Redis configured it returns zeros; the governor then relies on in-process
// counters alone.
func (l *Log) Today(ctx context.Context) (DayStats, error) {
	var stats DayStats
	if l.rdb == nil {
		return stats, nil
	}

	msgs, err := l.rdb.XRange(ctx, l.stream, "-", "+").Result()
	if err != nil {
		return stats, fmt.Errorf("xrange trade log: %w", err)
	}

	today := l.now().Format("2006-01-02")
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var e types.TradeLogEntry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		if e.Timestamp.Local().Format("2006-01-02") != today {
			continue
		}
		stats.Trades++
		if e.Success {
			stats.Successes++
		}
		stats.NetUSD += e.ActualUSD
	}
	return stats, nil
}

// Recent returns up to n latest entries, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]types.TradeLogEntry, error) {
	if l.rdb == nil {
		return nil, nil
	}
	msgs, err := l.rdb.XRevRangeN(ctx, l.stream, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange trade log: %w", err)
	}
	out := make([]types.TradeLogEntry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var e types.TradeLogEntry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Log) Close() error {
	if l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

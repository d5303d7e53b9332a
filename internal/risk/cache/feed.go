package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// MarketUpdate is the payload published on the market data channel.
type MarketUpdate struct {
	ChainID string                `json:"chain_id"`
	Update  risk.MarketDataUpdate `json:"update"`
}

// MarketDataSink is the monitor side of the feed.
type MarketDataSink interface {
	UpdateMarketData(chainID string, update risk.MarketDataUpdate) (risk.MarketData, error)
	ReplaceMarketData(data risk.MarketData) error
}

// MarketDataFeed applies market data pushed over Redis pub/sub to the
// monitor and writes each resulting snapshot through to the cache.
type MarketDataFeed struct {
	client  redis.UniversalClient
	cache   *MarketDataCache
	sink    MarketDataSink
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewMarketDataFeed creates a feed on the given channel. cache may be nil.
func NewMarketDataFeed(client redis.UniversalClient, cache *MarketDataCache, sink MarketDataSink, channel string, log *zap.Logger) *MarketDataFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketDataFeed{
		client:  client,
		cache:   cache,
		sink:    sink,
		channel: channel,
		log:     log.Named("market_data_feed"),
	}
}

// Name implements the module worker interface.
func (f *MarketDataFeed) Name() string {
	return "market_data_feed"
}

// Start warms the monitor from cache and subscribes to the channel.
func (f *MarketDataFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubsub != nil {
		return nil
	}

	if n, err := f.WarmUp(ctx); err != nil {
		f.log.Warn("market data warm-up failed", zap.Error(err))
	} else {
		f.log.Info("market data warmed up from cache", zap.Int("chains", n))
	}

	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}
	f.pubsub = pubsub
	f.done = make(chan struct{})

	go f.consume(pubsub.Channel(), f.done)
	f.log.Info("market data feed subscribed", zap.String("channel", f.channel))
	return nil
}

// Stop unsubscribes and waits for the consumer to exit.
func (f *MarketDataFeed) Stop(ctx context.Context) error {
	f.mu.Lock()
	pubsub, done := f.pubsub, f.done
	f.pubsub = nil
	f.mu.Unlock()
	if pubsub == nil {
		return nil
	}

	err := pubsub.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (f *MarketDataFeed) consume(messages <-chan *redis.Message, done chan<- struct{}) {
	defer close(done)
	for msg := range messages {
		if _, err := f.handle(context.Background(), msg.Payload); err != nil {
			f.log.Warn("dropping market data message", zap.String("channel", msg.Channel), zap.Error(err))
		}
	}
}

func (f *MarketDataFeed) handle(ctx context.Context, payload string) (risk.MarketData, error) {
	var msg MarketUpdate
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return risk.MarketData{}, risk.ErrValidation.Explain("invalid market data payload").Wrap(err)
	}
	return f.Apply(ctx, msg.ChainID, msg.Update)
}

// Apply merges an update into the monitor and caches the result. Cache
// failures are logged only.
func (f *MarketDataFeed) Apply(ctx context.Context, chainID string, update risk.MarketDataUpdate) (risk.MarketData, error) {
	if err := update.Validate(); err != nil {
		return risk.MarketData{}, err
	}
	data, err := f.sink.UpdateMarketData(chainID, update)
	if err != nil {
		return risk.MarketData{}, err
	}
	if f.cache != nil {
		if err := f.cache.Set(ctx, data); err != nil {
			f.log.Warn("market data not cached", zap.String("chain_id", chainID), zap.Error(err))
		}
	}
	return data, nil
}

// Publish pushes an update to every feed subscribed to the channel.
func (f *MarketDataFeed) Publish(ctx context.Context, chainID string, update risk.MarketDataUpdate) error {
	payload, err := json.Marshal(MarketUpdate{ChainID: chainID, Update: update})
	if err != nil {
		return fmt.Errorf("failed to marshal market update: %w", err)
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// WarmUp restores the cached snapshot of every supported chain into the
// monitor and reports how many chains were restored.
func (f *MarketDataFeed) WarmUp(ctx context.Context) (int, error) {
	if f.cache == nil {
		return 0, nil
	}
	snapshots, err := f.cache.LoadAll(ctx, risk.SupportedChains())
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, data := range snapshots {
		if err := f.sink.ReplaceMarketData(data); err != nil {
			f.log.Warn("skipping cached market data", zap.String("chain_id", data.ChainID), zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

// Package gateway delivers mission announcements to chat platforms.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

// DefaultPlatform receives announcements whose requester names no platform.
const DefaultPlatform = "inbox"

// Gateway manages platform adapters and routes announcements to them.
type Gateway struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter, replacing any with the same platform.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// ConnectAll starts all registered adapters.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return nil
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	return adapter.Send(ctx, msg)
}

// Announce delivers text to the requester. The platform comes from the
// requester's delivery context and defaults to the inbox; the channel
// defaults to the requester's session key.
func (g *Gateway) Announce(ctx context.Context, to mission.Requester, text string) error {
	msg := Route(to)
	msg.Content = text
	if err := g.Send(ctx, msg); err != nil {
		return fmt.Errorf("announce to %s/%s: %w", msg.Platform, msg.ChannelID, err)
	}
	g.logger.Info("announcement delivered",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID))
	return nil
}

// Route resolves where an announcement for to goes.
func Route(to mission.Requester) *OutboundMessage {
	dc := to.DeliveryContext
	msg := &OutboundMessage{
		Platform:  dc[KeyPlatform],
		ChannelID: dc[KeyChannel],
		ReplyTo:   dc[KeyThread],
	}
	if msg.Platform == "" {
		msg.Platform = DefaultPlatform
	}
	if msg.ChannelID == "" {
		msg.ChannelID = to.SessionKey
	}
	return msg
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Statuses returns each adapter's status ordered by platform.
func (g *Gateway) Statuses() []AdapterStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

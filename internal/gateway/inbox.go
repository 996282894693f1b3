package gateway

import (
	"context"
	"sync"
	"time"
)

const defaultInboxSize = 50

// InboxAdapter keeps recent announcements per channel in memory for
// clients that poll over HTTP.
type InboxAdapter struct {
	size     int
	mu       sync.RWMutex
	channels map[string][]OutboundMessage
	started  time.Time
}

// NewInboxAdapter keeps the last size messages per channel.
func NewInboxAdapter(size int) *InboxAdapter {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &InboxAdapter{size: size, channels: make(map[string][]OutboundMessage), started: time.Now()}
}

func (a *InboxAdapter) Platform() string { return DefaultPlatform }

func (a *InboxAdapter) Connect(context.Context) error { return nil }

func (a *InboxAdapter) Close() error { return nil }

// Send stores the message, dropping the oldest once the channel is full.
func (a *InboxAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored := *msg
	if stored.SentAt.IsZero() {
		stored.SentAt = time.Now()
	}
	msgs := append(a.channels[msg.ChannelID], stored)
	if len(msgs) > a.size {
		msgs = msgs[len(msgs)-a.size:]
	}
	a.channels[msg.ChannelID] = msgs
	return nil
}

// Messages returns a channel's stored messages, oldest first, optionally
// only those sent after since.
func (a *InboxAdapter) Messages(channelID string, since time.Time) []OutboundMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []OutboundMessage
	for _, m := range a.channels[channelID] {
		if since.IsZero() || m.SentAt.After(since) {
			out = append(out, m)
		}
	}
	return out
}

func (a *InboxAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t := a.started
	return AdapterStatus{Platform: DefaultPlatform, Connected: true, ConnectedAt: &t}
}

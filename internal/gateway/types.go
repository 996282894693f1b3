package gateway

import (
	"context"
	"time"
)

// Adapter delivers outbound messages to one platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	Close() error
	Status() AdapterStatus
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	MissionID string    `json:"mission_id,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// AdapterStatus reports an adapter's connection state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// Persona is how announcements appear on platforms that allow a custom
// sender name.
type Persona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"` // fallback if no icon_url, e.g. ":robot_face:"
}

// Delivery context keys read from a mission requester.
const (
	KeyPlatform = "platform"
	KeyChannel  = "channel"
	KeyThread   = "thread"
)

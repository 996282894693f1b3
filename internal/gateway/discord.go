package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordMessageMax is Discord's per-message content limit.
const discordMessageMax = 2000

// DiscordAdapter posts announcements through a Discord bot session.
type DiscordAdapter struct {
	token       string
	session     *discordgo.Session
	persona     *Persona
	webhooks    map[string]string // channelID -> webhook URL for persona messages
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// SetPersona sets the name and avatar used with channel webhooks.
func (a *DiscordAdapter) SetPersona(p *Persona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persona = p
}

// SetWebhook registers a webhook URL for a channel to enable persona messages.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guildCount := len(session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.connected = false
	a.mu.Unlock()
}

// Send posts a message, split into chunks that fit Discord's limit. A
// channel with a webhook and a configured persona posts through the webhook.
func (a *DiscordAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	session := a.session
	webhookURL := a.webhooks[msg.ChannelID]
	persona := a.persona
	a.mu.RUnlock()

	if session == nil {
		return errors.New("discord adapter not connected")
	}

	for _, chunk := range splitMessage(msg.Content, discordMessageMax) {
		var err error
		if webhookURL != "" && persona != nil {
			err = a.sendViaWebhook(ctx, session, webhookURL, persona, chunk)
		} else {
			_, err = session.ChannelMessageSend(msg.ChannelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(ctx context.Context, session *discordgo.Session, webhookURL string, persona *Persona, content string) error {
	id, token, ok := parseWebhookURL(webhookURL)
	if !ok {
		return fmt.Errorf("invalid discord webhook url")
	}
	params := &discordgo.WebhookParams{
		Content:  content,
		Username: persona.Name,
	}
	if persona.IconURL != "" {
		params.AvatarURL = persona.IconURL
	}
	if _, err := session.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// parseWebhookURL extracts id and token from .../webhooks/<id>/<token>.
func parseWebhookURL(u string) (string, string, bool) {
	_, rest, ok := strings.Cut(u, "/webhooks/")
	if !ok {
		return "", "", false
	}
	id, token, ok := strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || id == "" || token == "" {
		return "", "", false
	}
	return id, token, true
}

// splitMessage breaks s into pieces of at most max bytes, preferring line
// boundaries.
func splitMessage(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var out []string
	for len(s) > max {
		cut := strings.LastIndex(s[:max], "\n")
		if cut <= 0 {
			cut = max
			for cut > 1 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		out = append(out, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	err := a.session.Close()
	a.session = nil
	a.connected = false
	return err
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected && a.session != nil && a.session.State != nil {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s, guilds=%d",
			a.session.State.User.Username, len(a.session.State.Guilds))
	}
	return s
}

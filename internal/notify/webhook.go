// Package notify sends Discord/Telegram webhook notifications when the
// miner-ID worker classifies a block into one of the operator's watched
// pools.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

// WebhookConfig holds webhook configuration.
type WebhookConfig struct {
	DiscordURL   string   `mapstructure:"discord_url"`
	TelegramBot  string   `mapstructure:"telegram_bot"`
	TelegramChat string   `mapstructure:"telegram_chat"`
	Enabled      bool     `mapstructure:"enabled"`
	WatchedPools []string `mapstructure:"watched_pools"`
}

// Retry configuration.
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

// Notifier handles sending notifications.
type Notifier struct {
	cfg    *WebhookConfig
	client *http.Client
	watch  map[string]bool
}

// NewNotifier creates a new notifier.
func NewNotifier(cfg *WebhookConfig) *Notifier {
	watch := make(map[string]bool, len(cfg.WatchedPools))
	for _, p := range cfg.WatchedPools {
		watch[p] = true
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		watch:  watch,
	}
}

// NotifyMinerClassified fires when the miner-ID worker identifies a block's
// pool, if that pool is on the operator's watch list. No-op when disabled,
// unconfigured, or the pool isn't watched.
func (n *Notifier) NotifyMinerClassified(networkID uint32, height uint64, hash domain.Hash, miner string) {
	if !n.cfg.Enabled || !n.watch[miner] {
		return
	}

	if n.cfg.DiscordURL != "" {
		go n.sendDiscordNotification(networkID, height, hash, miner)
	}
	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramNotification(networkID, height, hash, miner)
	}
}

// DiscordEmbed represents a Discord embed object.
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// DiscordField represents a field in a Discord embed.
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordMessage represents a Discord webhook message.
type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds,omitempty"`
}

func (n *Notifier) sendDiscordNotification(networkID uint32, height uint64, hash domain.Hash, miner string) {
	embed := DiscordEmbed{
		Title:       "Watched pool found a block",
		Description: fmt.Sprintf("**%s** mined a block on network %d", miner, networkID),
		Color:       0x00FF00,
		Fields: []DiscordField{
			{Name: "Height", Value: fmt.Sprintf("%d", height), Inline: true},
			{Name: "Miner", Value: miner, Inline: true},
			{Name: "Hash", Value: truncateHash(hash.String()), Inline: false},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	n.sendDiscordMessageWithRetry(DiscordMessage{Embeds: []DiscordEmbed{embed}})
}

func (n *Notifier) sendDiscordMessageWithRetry(msg DiscordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("notify: marshal discord message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(RetryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}

		resp, err := n.client.Post(n.cfg.DiscordURL, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			time.Sleep(5 * time.Second)
			continue
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("notify: discord notification failed after %d retries: %v", MaxRetries, lastErr)
	}
}

// TelegramMessage represents a Telegram bot message.
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (n *Notifier) sendTelegramNotification(networkID uint32, height uint64, hash domain.Hash, miner string) {
	text := fmt.Sprintf(
		"*Watched pool found a block*\n\n"+
			"Network: `%d`\n"+
			"Height: `%d`\n"+
			"Miner: `%s`\n"+
			"Hash: `%s`",
		networkID, height, miner, truncateHash(hash.String()),
	)
	n.sendTelegramMessageWithRetry(text)
}

func (n *Notifier) sendTelegramMessageWithRetry(text string) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramBot)

	msg := TelegramMessage{ChatID: n.cfg.TelegramChat, Text: text, ParseMode: "Markdown"}
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("notify: marshal telegram message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(RetryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			time.Sleep(5 * time.Second)
			continue
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("notify: telegram notification failed after %d retries: %v", MaxRetries, lastErr)
	}
}

// truncateHash returns a shortened hash for display.
func truncateHash(hash string) string {
	if len(hash) <= 20 {
		return hash
	}
	return hash[:10] + "..." + hash[len(hash)-8:]
}

package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
	"github.com/sawpanic/stockmetrics/internal/infrastructure/async"
)

// TelegramConfig holds the bot used for run notifications
type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BotToken     string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID       string        `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	ProxyURL     string        `yaml:"proxy_url"`
	APIBase      string        `yaml:"api_base"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	OnlyFailures bool          `yaml:"only_failures"`
}

// DefaultTelegramConfig returns a disabled notifier
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		APIBase:      "https://api.telegram.org",
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Second,
	}
}

// Validate requires credentials when enabled
func (c TelegramConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BotToken == "" || c.ChatID == "" {
		return fmt.Errorf("telegram bot_token and chat_id are required when enabled")
	}
	if _, err := url.Parse(c.APIBase); err != nil {
		return fmt.Errorf("invalid telegram api_base: %w", err)
	}
	return nil
}

// TelegramNotifier sends run outcomes through the Telegram Bot API
type TelegramNotifier struct {
	config TelegramConfig
	client *http.Client
}

// NewTelegramNotifier creates a notifier with optional proxy support
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	transport := &http.Transport{}
	if config.ProxyURL != "" {
		if u, err := url.Parse(config.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if config.APIBase == "" {
		config.APIBase = DefaultTelegramConfig().APIBase
	}
	return &TelegramNotifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// APIError is a non-200 response from the Bot API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Temporary reports whether resending the same message can succeed. A 4xx
// other than 429 means the request itself was rejected.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func retryableSend(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Send posts one HTML message to the configured chat
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.config.ChatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.config.APIBase, t.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API rejected message: %s", result.Description)
	}
	return nil
}

// NotifyRun implements engine.Notifier
func (t *TelegramNotifier) NotifyRun(ctx context.Context, report *engine.RunReport) error {
	if t.config.OnlyFailures && report.State == engine.StateDone {
		return nil
	}

	retry := async.PoolConfig{MaxRetries: t.config.MaxRetries, RetryBackoff: t.config.RetryBackoff}
	return async.Retry(ctx, retry,
		func(ctx context.Context) error {
			return t.Send(ctx, FormatRunReport(report))
		},
		retryableSend,
		func(attempt int, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Telegram send failed, retrying")
		})
}

package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// maxResponseBody caps how much of a Bot API reply is read.
const maxResponseBody int64 = 1 << 20

// maxErrorBody caps how much of a failed reply is copied into ErrSendFailed.
const maxErrorBody = 512

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	// BotToken is the Telegram bot API token (from @BotFather).
	BotToken string `yaml:"bot_token" json:"bot_token"`
	// ChatID is the destination chat, user or channel identifier.
	ChatID string `yaml:"chat_id" json:"chat_id"`
	// APIURL overrides the Bot API base URL. Default: DefaultTelegramAPI.
	APIURL string `yaml:"api_url" json:"api_url,omitempty"`
	// Timeout bounds a single API call. Default: 30s.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

func (c *TelegramConfig) defaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultTelegramAPI
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Telegram sends messages and photos through the Telegram Bot API using the
// HTML parse mode. Text is sanitized down to the tag subset Telegram accepts.
type Telegram struct {
	config TelegramConfig
	client *http.Client
	policy *bluemonday.Policy
	logger *slog.Logger

	mu     sync.Mutex
	status ChannelStatus
}

// TelegramOption configures a Telegram channel.
type TelegramOption func(*Telegram)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) TelegramOption {
	return func(t *Telegram) { t.logger = l }
}

// NewTelegram creates a Telegram channel. Missing credentials are accepted
// here and reported as ErrNotConfigured on the first send.
func NewTelegram(cfg TelegramConfig, opts ...TelegramOption) *Telegram {
	cfg.defaults()
	t := &Telegram{
		config: cfg,
		client: &http.Client{},
		policy: telegramPolicy(),
		logger: slog.Default(),
		status: ChannelStatus{Platform: "telegram"},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// telegramPolicy allows the formatting tags documented for parse_mode=HTML
// and escapes everything else.
func telegramPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre", "blockquote")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "span")
	return p
}

// Sanitize returns text reduced to Telegram's HTML subset.
func (t *Telegram) Sanitize(text string) string {
	return t.policy.Sanitize(text)
}

// SendMessage posts a text message to the configured chat.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	if err := t.checkConfig(); err != nil {
		return t.record(err)
	}
	form := url.Values{}
	form.Set("chat_id", t.config.ChatID)
	form.Set("text", t.Sanitize(text))
	form.Set("parse_mode", "HTML")

	err := t.post(ctx, "sendMessage", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err == nil {
		t.logger.Info("telegram: message sent", "chat_id", t.config.ChatID)
	}
	return t.record(err)
}

// SendPhoto posts the image at path with a caption to the configured chat.
func (t *Telegram) SendPhoto(ctx context.Context, path, caption string) error {
	if err := t.checkConfig(); err != nil {
		return t.record(err)
	}
	f, err := os.Open(path)
	if err != nil {
		return t.record(&ErrSendFailed{Platform: "telegram", Method: "sendPhoto", Cause: err})
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"chat_id", t.config.ChatID},
		{"caption", t.Sanitize(caption)},
		{"parse_mode", "HTML"},
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return t.record(&ErrSendFailed{Platform: "telegram", Method: "sendPhoto", Cause: err})
		}
	}
	part, err := mw.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return t.record(&ErrSendFailed{Platform: "telegram", Method: "sendPhoto", Cause: err})
	}
	if _, err := io.Copy(part, f); err != nil {
		return t.record(&ErrSendFailed{Platform: "telegram", Method: "sendPhoto", Cause: err})
	}
	if err := mw.Close(); err != nil {
		return t.record(&ErrSendFailed{Platform: "telegram", Method: "sendPhoto", Cause: err})
	}

	err = t.post(ctx, "sendPhoto", mw.FormDataContentType(), &body)
	if err == nil {
		t.logger.Info("telegram: photo sent", "chat_id", t.config.ChatID, "path", path)
	}
	return t.record(err)
}

// Status returns delivery counters and the last error, if any.
func (t *Telegram) Status() ChannelStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Telegram) checkConfig() error {
	if t.config.BotToken == "" || t.config.ChatID == "" {
		return ErrNotConfigured
	}
	return nil
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

func (t *Telegram) post(ctx context.Context, method, contentType string, body io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	endpoint := t.config.APIURL + "/bot" + t.config.BotToken + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return &ErrSendFailed{Platform: "telegram", Method: method, Cause: redactToken(err, t.config.BotToken)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return &ErrSendFailed{Platform: "telegram", Method: method, Cause: redactToken(err, t.config.BotToken)}
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, maxResponseBody)
	if err != nil {
		return &ErrSendFailed{Platform: "telegram", Method: method, Status: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ErrSendFailed{
			Platform: "telegram",
			Method:   method,
			Status:   resp.StatusCode,
			Body:     truncate(string(data), maxErrorBody),
			Cause:    fmt.Errorf("http status %d", resp.StatusCode),
		}
	}

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err == nil && !ar.OK {
		return &ErrSendFailed{
			Platform: "telegram",
			Method:   method,
			Status:   resp.StatusCode,
			Body:     truncate(ar.Description, maxErrorBody),
			Cause:    fmt.Errorf("api error %d", ar.ErrorCode),
		}
	}
	return nil
}

func (t *Telegram) record(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status.Failed++
		t.status.Error = err.Error()
		return err
	}
	t.status.Sent++
	t.status.LastMessage = time.Now()
	t.status.Error = ""
	return nil
}

// redactToken keeps the bot token out of error strings; url.Error embeds
// the full request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

// readLimited reads at most maxBytes from r.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("channels: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

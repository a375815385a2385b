package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"log-guard/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	telegramAttempts   = 3
)

var ErrTelegramDisabled = errors.New("telegram notifier is disabled")

// TelegramNotifier posts rule alerts to a chat through the Bot API.
type TelegramNotifier struct {
	botToken   string
	chatID     string
	parseMode  string
	enabled    bool
	apiURL     string
	retryDelay time.Duration
	tmpl       *template.Template
	client     *http.Client
	logger     *logrus.Logger
}

type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func NewTelegramNotifier(botToken, chatID, parseMode string, enabled bool, logger *logrus.Logger) *TelegramNotifier {
	return NewTelegramNotifierWithTemplate(botToken, chatID, parseMode, enabled, "", logger)
}

// NewTelegramNotifierWithTemplate renders alerts with messageTemplate, a
// text/template over model.Alert with a formatTime helper. An invalid template
// is logged and the built-in layout is used.
func NewTelegramNotifierWithTemplate(botToken, chatID, parseMode string, enabled bool, messageTemplate string, logger *logrus.Logger) *TelegramNotifier {
	tn := &TelegramNotifier{
		botToken:   botToken,
		chatID:     chatID,
		parseMode:  plainSafeParseMode(parseMode),
		enabled:    enabled,
		apiURL:     defaultTelegramAPI,
		retryDelay: time.Second,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}

	if strings.TrimSpace(messageTemplate) == "" {
		return tn
	}
	tmpl, err := parseAlertTemplate(messageTemplate)
	if err != nil {
		logger.Warnf("Failed to parse Telegram message template: %v, using default format", err)
		return tn
	}
	tn.tmpl = tmpl
	return tn
}

func parseAlertTemplate(text string) (*template.Template, error) {
	return template.New("telegram_message").Funcs(template.FuncMap{
		"formatTime": func(t time.Time, layout string) string { return t.Format(layout) },
	}).Parse(text)
}

// plainSafeParseMode drops the Markdown modes; raw log text breaks them.
func plainSafeParseMode(mode string) string {
	switch mode {
	case "Markdown", "MarkdownV2":
		return ""
	}
	return mode
}

// WithAPIURL points the notifier at a different Bot API endpoint.
func (tn *TelegramNotifier) WithAPIURL(url string, retryDelay time.Duration) *TelegramNotifier {
	tn.apiURL = strings.TrimRight(url, "/")
	tn.retryDelay = retryDelay
	return tn
}

// SendAlert delivers the alert, retrying with a linearly growing pause until
// ctx is done. A disabled notifier accepts and discards alerts.
func (tn *TelegramNotifier) SendAlert(ctx context.Context, alert model.Alert) error {
	if !tn.enabled {
		tn.logger.Debug("Telegram notifier is disabled, skipping alert")
		return nil
	}

	text := tn.render(alert)

	var lastErr error
	for attempt := 1; attempt <= telegramAttempts; attempt++ {
		if lastErr = tn.post(ctx, text); lastErr == nil {
			tn.logger.WithField("alert_id", alert.ID).Info("Alert sent to Telegram")
			return nil
		}
		tn.logger.Warnf("Telegram delivery failed (attempt %d/%d): %v", attempt, telegramAttempts, lastErr)
		if attempt == telegramAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram alert %s abandoned: %w", alert.ID, ctx.Err())
		case <-time.After(time.Duration(attempt) * tn.retryDelay):
		}
	}
	return fmt.Errorf("telegram alert %s not delivered after %d attempts: %w", alert.ID, telegramAttempts, lastErr)
}

func (tn *TelegramNotifier) render(alert model.Alert) string {
	if tn.tmpl != nil {
		var buf bytes.Buffer
		err := tn.tmpl.Execute(&buf, alert)
		if err == nil {
			return buf.String()
		}
		tn.logger.Warnf("Failed to execute message template: %v, using default format", err)
	}

	name := alert.Rule
	if name == "" {
		name = alert.Category
	}
	address := alert.Address
	if address == "" {
		address = model.UnknownAddress
	}

	fields := [][2]string{
		{"alert_name", name},
		{"time", alert.Timestamp.Format("2006-01-02 15:04:05")},
		{"severity", alert.Severity.String()},
		{"source_ip", address},
		{"description", alert.Description},
	}
	if alert.Recipient != "" {
		fields = append(fields, [2]string{"recipient", alert.Recipient})
	}

	var b strings.Builder
	b.WriteString("ALERT FIRING: Log Anomaly\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "\n%s: %s", f[0], f[1])
	}
	return b.String()
}

func (tn *TelegramNotifier) post(ctx context.Context, text string) error {
	body, err := json.Marshal(TelegramMessage{
		ChatID:    tn.chatID,
		Text:      text,
		ParseMode: tn.parseMode,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiURL, tn.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to bot api: %w", err)
	}
	defer resp.Body.Close()

	var out TelegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode bot api response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram API error: %s", out.Description)
	}
	return nil
}

// SendTestMessage posts a fixed message once, without retries.
func (tn *TelegramNotifier) SendTestMessage() error {
	if !tn.enabled {
		return ErrTelegramDisabled
	}
	return tn.post(context.Background(), "Test Message\n\nlog-guard alerting is working correctly!")
}

func (tn *TelegramNotifier) IsEnabled() bool {
	return tn.enabled
}

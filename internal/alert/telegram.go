package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
)

const (
	DefaultTelegramBaseURL = "https://api.telegram.org"
	// Telegram rejects longer texts.
	telegramMaxText   = 4096
	telegramSendTries = 3
)

// TelegramNotifier posts alert text to one chat through the Bot API.
type TelegramNotifier struct {
	chatID   string
	endpoint string
	client   *http.Client
	tries    int
	// wait is replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewTelegramNotifier returns nil when token or chat id is missing so the
// result can be handed straight to NewManager.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if botToken == "" || chatID == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		chatID:   chatID,
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + botToken + "/sendMessage",
		client:   &http.Client{Timeout: timeout},
		tries:    telegramSendTries,
		wait:     sleepCtx,
	}
}

// Notify sends msg, retrying rate limits and server errors. A 429 waits for
// the retry_after the API asks for.
func (t *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	if t == nil {
		return nil
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: truncateText(msg, telegramMaxText)})
	if err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	var lastErr error
	for attempt := 1; attempt <= t.tries; attempt++ {
		retryAfter, err := t.send(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) || attempt == t.tries {
			break
		}
		delay := b.NextBackOff()
		if retryAfter > 0 {
			delay = retryAfter
		}
		if err := t.wait(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// send performs one attempt. The returned duration is the server's
// retry_after hint, if any.
func (t *TelegramNotifier) send(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed sendMessageResponse
	decoded := len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return time.Duration(parsed.Parameters.RetryAfter) * time.Second,
			fmt.Errorf("telegram rate limited: %s", strings.TrimSpace(parsed.Description))
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("telegram status=%d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, &permanentError{fmt.Errorf("telegram status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}
	if decoded && !parsed.OK {
		return 0, &permanentError{fmt.Errorf("telegram api error: %s", strings.TrimSpace(parsed.Description))}
	}
	return 0, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// truncateText cuts s to at most limit runes, marking the cut.
func truncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	const marker = "\n…"
	runes := []rune(s)
	return string(runes[:limit-utf8.RuneCountInString(marker)]) + marker
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

package abilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Connector — транспорт к REST API сайта. Абстракция нужна ради тестов
// и ради обертки надежности: способности не знают, через что идет вызов.
type Connector interface {
	Call(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error)
}

// ThrottleError — сайт попросил сбавить темп (429 + Retry-After).
// Обертка надежности читает RetryAfter и ждет ровно столько.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// RESTConnector ходит в REST API сайта под сервисным пользователем
// с application password (Basic Auth).
type RESTConnector struct {
	httpClient *http.Client
	baseURL    string
	user       string
	appPass    string
	logger     *zap.Logger
}

func NewRESTConnector(baseURL, user, appPass string, timeout time.Duration, logger *zap.Logger) *RESTConnector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RESTConnector{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		user:       user,
		appPass:    appPass,
		logger:     logger.Named("site"),
	}
}

func (c *RESTConnector) Call(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("site: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/wp-json"+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.appPass)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("site: transport error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("site: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("site: rate limited on %s %s", method, path),
		}
	case resp.StatusCode >= 400:
		c.logger.Warn("site call failed",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("site: %s %s returned status %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}

	return json.RawMessage(data), nil
}

func parseRetryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 10 * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

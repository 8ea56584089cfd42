// Package gateway — HTTP-клиент исходящего соединения с агентским шлюзом.
//
// Две дисциплины отправки:
//   - SendAsync — fire-and-forget для горячего пути диспетчера: транспортная
//     ошибка (DNS, connect, таймаут) видна и возвращается, но HTTP-статус
//     ответа сознательно НЕ инспектируется;
//   - Send — блокирующая отправка для ретраев: статус проверяется.
//
// Оба пути записывают исход в предохранитель; гейтится по нему только
// то, что может позволить себе fail-fast (проверка соединения, MCP-тулзы) —
// дешевые неблокирующие отправки идут всегда.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/breaker"
	"github.com/xela07ax/pinch-bridge/internal/features"
)

const agentHookPath = "/hooks/agent"

// ErrCircuitOpen возвращается гейтящимся вызовам, пока цепь разомкнута.
var ErrCircuitOpen = fmt.Errorf("gateway: circuit open, failing fast")

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cb         *breaker.Breaker
	flags      *features.Flags
	logger     *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, cb *breaker.Breaker, flags *features.Flags, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		cb:         cb,
		flags:      flags,
		logger:     logger.Named("gateway"),
	}
}

// Configured — сконфигурирован ли шлюз вообще (URL + credential).
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// Endpoint — полный URL приемника событий.
func (c *Client) Endpoint() string {
	return c.baseURL + agentHookPath
}

// Available — консультация предохранителя для fail-fast вызовов.
// При выключенной фиче предохранитель никого не гейтит.
func (c *Client) Available(ctx context.Context) bool {
	if !c.flags.Enabled(features.CircuitBreaker) {
		return true
	}
	return c.cb.Available(ctx)
}

// RetryAfter — подсказка клиенту, когда цепь снова пропустит вызов.
func (c *Client) RetryAfter(ctx context.Context) time.Duration {
	return c.cb.RetryAfter(ctx)
}

// SendAsync — неблокирующая отправка. Возвращает ошибку только на
// транспортном уровне; 4xx/5xx от пира здесь не видны — это принятая
// дань совместимости, ретраи ловят такие отказы на блокирующем пути.
func (c *Client) SendAsync(ctx context.Context, body []byte, headers map[string]string) error {
	resp, err := c.do(ctx, body, headers)
	if err != nil {
		c.cb.RecordFailure(ctx)
		return err
	}
	// Ответ не читаем и не оцениваем, только закрываем
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	c.cb.RecordSuccess(ctx)
	return nil
}

// Send — блокирующая отправка с инспекцией статуса (путь ретраев).
func (c *Client) Send(ctx context.Context, body []byte, headers map[string]string) error {
	resp, err := c.do(ctx, body, headers)
	if err != nil {
		c.cb.RecordFailure(ctx)
		return fmt.Errorf("gateway: transport error: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.cb.RecordFailure(ctx)
		return fmt.Errorf("gateway: remote rejected with status %d", resp.StatusCode)
	}
	c.cb.RecordSuccess(ctx)
	return nil
}

// Probe — гейтящийся пробный вызов (консоль, MCP): сначала предохранитель,
// потом сеть. Именно этот путь реализует fail-fast из E2E-сценариев.
func (c *Client) Probe(ctx context.Context, body []byte, headers map[string]string) error {
	if !c.Available(ctx) {
		return ErrCircuitOpen
	}
	return c.Send(ctx, body, headers)
}

func (c *Client) do(ctx context.Context, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpClient.Do(req)
}

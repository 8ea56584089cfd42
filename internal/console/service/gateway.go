package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xela07ax/pinch-bridge/internal/gateway"
)

// GatewayService — операции консоли над соединением со шлюзом:
// проверка связи (fail-fast через предохранитель) и тестовая отправка.
type GatewayService struct {
	client *gateway.Client
}

func NewGatewayService(client *gateway.Client) *GatewayService {
	return &GatewayService{client: client}
}

type ConnectionStatus struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	Error      string `json:"error,omitempty"`
	// RetryAfterSeconds > 0 — цепь разомкнута, раньше пробовать бессмысленно.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// TestConnection шлет пробный ping-конверт. Разомкнутая цепь не трогает
// сеть вообще: оператор видит честный fail-fast с таймером.
func (s *GatewayService) TestConnection(ctx context.Context) *ConnectionStatus {
	status := &ConnectionStatus{Configured: s.client.Configured()}
	if !status.Configured {
		status.Error = "gateway url or token is not configured"
		return status
	}

	body, _ := json.Marshal(map[string]interface{}{
		"message":    "Connection test from the bridge console",
		"sessionKey": "console:test",
		"wakeMode":   "queue",
		"channel":    "wordpress",
		"metadata":   map[string]interface{}{"event": "connection_test", "timestamp": time.Now().Unix()},
	})

	if err := s.client.Probe(ctx, body, nil); err != nil {
		status.Error = err.Error()
		if errors.Is(err, gateway.ErrCircuitOpen) {
			status.RetryAfterSeconds = int64(s.client.RetryAfter(ctx).Seconds())
		}
		return status
	}

	status.Reachable = true
	return status
}

// Package hooks — входящий канал от агентского шлюза: аутентификация,
// конвейер действий (ping / execute_ability / execute_batch / run_governance)
// и durable-очередь ручных подтверждений.
package hooks

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/pinch-bridge/internal/features"
	"github.com/xela07ax/pinch-bridge/internal/signature"
)

var ErrUnauthenticated = fmt.Errorf("hooks: request is not authenticated")

// Заголовки входящего канала.
const (
	HeaderToken     = "X-Pinch-Token"
	HeaderSignature = "X-Pinch-Signature"
	HeaderTimestamp = "X-Pinch-Timestamp"
)

// Authenticator проверяет входящий запрос одним из настроенных способов:
// Bearer-токен, выделенный заголовок либо HMAC-подпись тела (фича-гейт).
// Достаточно одного успешного способа; ни одного настроенного — отказ всем.
type Authenticator struct {
	bearerToken   string
	headerToken   string
	hmacSecret    string
	hmacTolerance time.Duration
	flags         *features.Flags
	now           func() time.Time
}

func NewAuthenticator(bearerToken, headerToken, hmacSecret string, tolerance time.Duration, flags *features.Flags) *Authenticator {
	if tolerance <= 0 {
		tolerance = signature.DefaultTolerance
	}
	return &Authenticator{
		bearerToken:   bearerToken,
		headerToken:   headerToken,
		hmacSecret:    hmacSecret,
		hmacTolerance: tolerance,
		flags:         flags,
		now:           time.Now,
	}
}

// WithClock подменяет часы (для тестов проверки окна HMAC).
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Configured сообщает, есть ли хоть один рабочий способ аутентификации.
// Без единого credential входящий API считается выключенным.
func (a *Authenticator) Configured() bool {
	if a.bearerToken != "" || a.headerToken != "" {
		return true
	}
	return a.hmacSecret != "" && a.flags.Enabled(features.HMACInbound)
}

// Authenticate — body нужен только HMAC-ветке; токены проверяются
// сравнением за постоянное время.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) error {
	if a.bearerToken != "" {
		header := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
				return nil
			}
		}
	}

	if a.headerToken != "" {
		if token := r.Header.Get(HeaderToken); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.headerToken)) == 1 {
				return nil
			}
		}
	}

	if a.hmacSecret != "" && a.flags.Enabled(features.HMACInbound) {
		sig := r.Header.Get(HeaderSignature)
		ts := r.Header.Get(HeaderTimestamp)
		if sig != "" && ts != "" {
			if err := signature.Verify(a.hmacSecret, sig, ts, body, a.hmacTolerance, a.now()); err == nil {
				return nil
			}
		}
	}

	return ErrUnauthenticated
}

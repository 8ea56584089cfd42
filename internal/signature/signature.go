// Package signature реализует HMAC-подпись вебхуков в формате "v1=<hex>".
// Подписывается строка "{unix_ts}.{json_body}", так что утечка подписи из
// логов не дает реплея: проверяющая сторона сначала валидирует окно времени.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// Prefix версионирует схему подписи, чтобы можно было мигрировать секреты.
	Prefix = "v1="

	// DefaultTolerance — допустимый разбег таймстемпа (как у Stripe).
	DefaultTolerance = 300 * time.Second
)

var (
	ErrStaleTimestamp = errors.New("signature: timestamp outside tolerance window")
	ErrBadSignature   = errors.New("signature: mac mismatch")
	ErrBadFormat      = errors.New("signature: malformed header")
)

// Sign возвращает подпись тела body на момент ts.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись входящего запроса.
// Порядок принципиален: сначала окно времени, потом MAC — корректный MAC
// с протухшим таймстемпом всё равно отклоняется (защита от replay).
func Verify(secret, sigHeader, tsHeader string, body []byte, tolerance time.Duration, now time.Time) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrBadFormat
	}

	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > tolerance {
		return ErrStaleTimestamp
	}

	expected := Sign(secret, ts, body)
	// Сравнение за константное время
	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return ErrBadSignature
	}
	return nil
}

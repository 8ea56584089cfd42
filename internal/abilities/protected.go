package abilities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ProtectedConnector — обертка надежности вокруг транспорта к сайту:
// лимитер темпа, предохранитель и ретраи с умным бэкоффом. Это защита
// НАШЕГО сайта от нас самих: шквал ретраев в упавший REST API хуже,
// чем честный отказ способности.
type ProtectedConnector struct {
	next    Connector
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewProtectedConnector(next Connector) *ProtectedConnector {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "site-rest",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	// Темп запросов к собственному сайту: 10 rps с короткими всплесками
	limiter := rate.NewLimiter(rate.Limit(10), 5)

	return &ProtectedConnector{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (p *ProtectedConnector) Call(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	// 1. Rate Limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("site rate limit: %w", err)
	}

	var finalData json.RawMessage

	// 2. Circuit Breaker
	cbResult, err := p.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Сайт прислал Retry-After — уважаем его, а не свой бэкофф
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			defer cancel()

			var callErr error
			finalData, callErr = p.next.Call(tCtx, method, path, body)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.(json.RawMessage), nil
}

// Package backoff — стратегии задержки между повторами.
//
// Используется в трёх местах:
//   - оркестратор откладывает retry шага по RetryPolicy
//   - монитор переподключается к ledger с jitter
//   - Retry повторяет транзакции при временных ошибках БД
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shaiso/Stellara/internal/domain"
)

// Значения по умолчанию.
const (
	DefaultInitial = time.Second
	DefaultMax     = 30 * time.Second
)

// Strategy вычисляет задержку перед повтором.
// attempt начинается с 1: первая задержка после первой неудачи.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Fixed — одинаковая задержка на каждой попытке.
type Fixed struct {
	Interval time.Duration
}

func (f Fixed) Delay(int) time.Duration { return f.Interval }

// Linear — Initial * attempt, не больше Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential — Initial * 2^(attempt-1), не больше Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	return capped(expBase(e.Initial, attempt, e.Max), e.Max)
}

// Jitter — full jitter поверх экспоненты: случайное значение в [0, base].
// Разносит переподключения множества клиентов во времени.
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (j Jitter) Delay(attempt int) time.Duration {
	base := capped(expBase(j.Initial, attempt, j.Max), j.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter не требует crypto/rand
}

// FromPolicy строит стратегию по RetryPolicy шага.
func FromPolicy(p domain.RetryPolicy) Strategy {
	initial := p.InitialDelay()
	if initial <= 0 {
		initial = DefaultInitial
	}
	maxDelay := p.MaxDelay()
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}

	switch p.Backoff {
	case "fixed":
		return Fixed{Interval: initial}
	case "linear":
		return Linear{Initial: initial, Max: maxDelay}
	default:
		return Exponential{Initial: initial, Max: maxDelay}
	}
}

// Retry выполняет fn, пока она возвращает временную ошибку
// (domain.ErrTransientInfra), но не больше attempts раз.
// Остальные ошибки возвращаются сразу.
func Retry(ctx context.Context, s Strategy, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !domain.IsTransient(err) || attempt >= attempts {
			return err
		}

		t := time.NewTimer(s.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func expBase(initial time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

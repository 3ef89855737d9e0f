package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy 退避策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // 固定间隔
	StrategyLinear      Strategy = "linear"      // 线性递增
	StrategyExponential Strategy = "exponential" // 指数退避
)

// Policy 重试策略
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Strategy        Strategy
}

// DefaultPolicy 启动期连接外部依赖时使用
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Strategy:        StrategyExponential,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不可重试的错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	switch {
	case errors.As(err, &perm):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// Do 执行 fn，失败时按策略等待后重试
func Do(ctx context.Context, p Policy, log *logrus.Entry, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.interval(attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     p.MaxAttempts,
			"wait":    wait,
		}).Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled during wait: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", p.MaxAttempts, lastErr)
}

// interval 第 attempt 次失败后的等待时间
func (p Policy) interval(attempt int) time.Duration {
	var next time.Duration
	switch p.Strategy {
	case StrategyLinear:
		next = p.InitialInterval * time.Duration(attempt)
	case StrategyExponential:
		next = p.InitialInterval
		for i := 1; i < attempt; i++ {
			if p.MaxInterval > 0 && next >= p.MaxInterval {
				break
			}
			if next > math.MaxInt64/2 {
				next = math.MaxInt64
				break
			}
			next *= 2
		}
	default:
		next = p.InitialInterval
	}
	if p.MaxInterval > 0 && next > p.MaxInterval {
		next = p.MaxInterval
	}
	return next
}

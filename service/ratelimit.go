package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// QuotaStore 持久化 RateGate 的日期戳和计数，进程重启后配额不清零。
// Redis 实现见 store.go；写失败只降级跳过，不影响计数本身。
type QuotaStore interface {
	LoadQuota() (date string, count int, ok bool)
	SaveQuota(date string, count int)
}

// RateGate 进程级每日请求配额。只做准入判断，不做节流延迟：
// 配额耗尽立即拒绝，次日零点（本地时间）自动复位。
type RateGate struct {
	mu        sync.Mutex
	limit     int
	count     int
	resetDate string // time.Time.Format("2006-01-02")
	store     QuotaStore
	now       func() time.Time
}

// NewRateGate 显式构造的单实例，由 main 注入到需要配额的各个阶段，
// 测试里可传入假 store 和假时钟。
func NewRateGate(limit int, store QuotaStore) *RateGate {
	g := &RateGate{
		limit: limit,
		store: store,
		now:   time.Now,
	}
	today := g.now().Format("2006-01-02")
	g.resetDate = today
	if store != nil {
		if date, count, ok := store.LoadQuota(); ok && date == today {
			g.count = count
		}
	}
	return g
}

// TryConsume 消耗一个配额单位；耗尽时返回 ErrQuotaExceeded。
func (g *RateGate) TryConsume() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.now().Format("2006-01-02")
	if g.resetDate != today {
		g.count = 0
		g.resetDate = today
	}
	if g.count >= g.limit {
		return fmt.Errorf("%w (%d requests). Please try again tomorrow", ErrQuotaExceeded, g.limit)
	}
	g.count++
	if g.store != nil {
		g.store.SaveQuota(g.resetDate, g.count)
	}
	return nil
}

type QuotaInfo struct {
	DailyCount int `json:"dailyCount"`
	DailyLimit int `json:"dailyLimit"`
	Remaining  int `json:"remaining"`
}

func (g *RateGate) Info() QuotaInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resetDate != g.now().Format("2006-01-02") {
		// 只读视角下也要体现隔日复位
		return QuotaInfo{DailyCount: 0, DailyLimit: g.limit, Remaining: g.limit}
	}
	return QuotaInfo{DailyCount: g.count, DailyLimit: g.limit, Remaining: g.limit - g.count}
}

// sleepCtx 可被测试替换为零延迟实现
var sleepCtx = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithRetry 通用退避重试。仅对限流/瞬时错误重试（见 IsRetryable），
// 其余错误立即上抛；退避按尝试次数指数增长；重试耗尽返回最后一次错误。
func WithRetry[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		wait := baseDelay * (1 << attempt) // base, 2x, 4x...
		log.Printf("[Retry] 触发限流，%v 后重试 (%d/%d): %v", wait, attempt+1, maxAttempts-1, err)
		if err := sleepCtx(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

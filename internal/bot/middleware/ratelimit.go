package middleware

import (
	"sync"
	"time"
)

// RateLimiter — скользящее окно команд на пользователя.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[int64]*window
	limit  int
	period time.Duration
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type window struct {
	times []time.Time
	// warned — пользователю уже сказали подождать в текущем окне.
	warned bool
}

// NewRateLimiter пропускает не больше limit команд за period.
// limit <= 0 отключает ограничение.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		hits:   make(map[int64]*window),
		limit:  limit,
		period: period,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Close останавливает фоновую очистку.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow учитывает команду userID. При отказе возвращает, через сколько
// освободится место, и warn=true для первого отказа в окне.
func (rl *RateLimiter) Allow(userID int64) (ok bool, retryAfter time.Duration, warn bool) {
	if rl.limit <= 0 {
		return true, 0, false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.hits[userID]
	if w == nil {
		w = &window{}
		rl.hits[userID] = w
	}
	w.times = trim(w.times, now.Add(-rl.period))

	if len(w.times) < rl.limit {
		w.times = append(w.times, now)
		w.warned = false
		return true, 0, false
	}

	retryAfter = w.times[0].Add(rl.period).Sub(now)
	warn = !w.warned
	w.warned = true
	return false, retryAfter, warn
}

// trim отбрасывает отметки не позже cutoff; times упорядочены.
func trim(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.period)
	for userID, w := range rl.hits {
		w.times = trim(w.times, cutoff)
		if len(w.times) == 0 {
			delete(rl.hits, userID)
		}
	}
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

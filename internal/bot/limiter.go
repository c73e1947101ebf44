package bot

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// sendLimiter throttles outgoing messages per chat and globally
type sendLimiter struct {
	mu     sync.Mutex
	chats  map[int64]*rate.Limiter
	global *rate.Limiter
	limit  rate.Limit
	burst  int
}

func newSendLimiter(opts Options) *sendLimiter {
	return &sendLimiter{
		chats:  make(map[int64]*rate.Limiter),
		global: rate.NewLimiter(opts.GlobalRate, opts.GlobalBurst),
		limit:  opts.ChatRate,
		burst:  opts.ChatBurst,
	}
}

// getLimiter gets or creates a limiter for the given chat
func (l *sendLimiter) getLimiter(chatID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.chats[chatID]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.chats[chatID] = limiter
	return limiter
}

// Wait blocks until a message to chatID may be sent
func (l *sendLimiter) Wait(ctx context.Context, chatID int64) error {
	if err := l.getLimiter(chatID).Wait(ctx); err != nil {
		return err
	}
	return l.global.Wait(ctx)
}

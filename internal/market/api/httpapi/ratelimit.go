package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// purchaseLimiter throttles purchase attempts per buyer address.
type purchaseLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newPurchaseLimiter(perSecond float64, burst int) *purchaseLimiter {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &purchaseLimiter{limit: rate.Limit(perSecond), burst: burst}
}

func (l *purchaseLimiter) allow(buyer string) bool {
	if val, ok := l.limiters.Load(buyer); ok {
		return val.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	actual, _ := l.limiters.LoadOrStore(buyer, limiter)
	return actual.(*rate.Limiter).Allow()
}

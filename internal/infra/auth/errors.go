package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ThrottleError IdP попросил подождать (429/503 с Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// maxRetryAfter верхняя граница паузы: дольше ждать в запросе смысла нет, лучше отдать stale ключ
const maxRetryAfter = 5 * time.Second

// retryAfter разбирает Retry-After (секунды или HTTP-дата). false - заголовка нет или он кривой.
func retryAfter(h string, now time.Time) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(h); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(h); err == nil {
		d = at.Sub(now)
	} else {
		return 0, false
	}
	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}

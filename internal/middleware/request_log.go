package middleware

import (
	"net/http"
	"time"

	"github.com/chatflow/internal/logger"
)

// RequestLog логирует длительность каждого запроса и отдельно ответы 5xx.
// Статус читается через обёртку RecoverJSON, поэтому RequestLog ставится внутри неё.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		rec, ok := w.(*responseWriter)
		if !ok {
			rec = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s status=%d", r.Method, r.URL.Path, rec.status)
		}
	})
}

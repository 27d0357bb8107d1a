package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/surveyor/internal/guard"
)

// BearerAuthMiddleware rejects requests without the expected bearer token. An empty
// token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GuardMiddleware attaches a fresh resource guard to every request and logs what the
// request consumed once it completes.
func GuardMiddleware(limits guard.Limits, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := guard.New(limits)
			next.ServeHTTP(w, r.WithContext(guard.NewContext(r.Context(), g)))

			usage, err := g.Checkpoint()
			attrs := []any{
				"request_id", middleware.GetReqID(r.Context()),
				"path", r.URL.Path,
				"chunks", usage.Chunks,
				"attachments", usage.Attachments,
				"tokens", usage.Tokens,
			}
			switch near := usage.Near(g.Limits()); {
			case err != nil:
				logger.Warn("request exceeded resource limit", append(attrs, "error", err)...)
			case len(near) > 0:
				logger.Warn("request close to resource limit", append(attrs, "near", near)...)
			default:
				logger.Debug("request resource usage", attrs...)
			}
		})
	}
}

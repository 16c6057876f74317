package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/store"
)

// AccountLookup resolves account ids. *store.Store satisfies it.
type AccountLookup interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

type actorKey struct{}

// Actor resolves the calling account from the X-Actor header, or the
// "actor" query parameter for websocket upgrades, and stores it in the
// request context. Requests without one pass through anonymously; an id
// that names no account is rejected.
func Actor(accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Actor")
			if id == "" {
				id = r.URL.Query().Get("actor")
			}
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			acct, err := accounts.GetAccount(r.Context(), id)
			if errors.Is(err, apperr.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "UNKNOWN_ACTOR", "X-Actor does not name an account")
				return
			}
			if err != nil {
				domainErrorToHTTP(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, acct)
			if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
				ctx = l.With().Str("actor", acct.ID).Logger().WithContext(ctx)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// actorFrom returns the account resolved by Actor, or nil.
func actorFrom(ctx context.Context) *store.Account {
	acct, _ := ctx.Value(actorKey{}).(*store.Account)
	return acct
}

// requireActor writes 401 and returns false when the request is anonymous.
func requireActor(w http.ResponseWriter, r *http.Request) (*store.Account, bool) {
	acct := actorFrom(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "MISSING_ACTOR", "X-Actor header is required")
		return nil, false
	}
	return acct, true
}

// Logging attaches a request-scoped logger to the context and logs one line
// per request.
func Logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))
			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

// Recovery turns a panic in a handler into a 500 response.
func Recovery(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Str("path", r.URL.Path).Msg("handler panic")
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

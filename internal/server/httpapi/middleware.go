package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/google/uuid"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1 << 20

// RequestContext is created for every request and dropped when it ends.
type RequestContext struct {
	ID       string
	Logger   logging.Logger
	Identity *httpsig.Identity
}

type ctxKey string

const requestContextKey ctxKey = "requestContext"

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom returns the request context set by the server, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

func requestLogger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, logging.Nop())
}

// identity returns the authenticated caller. Routes behind authenticate
// always have one.
func identity(r *http.Request) *httpsig.Identity {
	if rc := RequestContextFrom(r.Context()); rc != nil {
		return rc.Identity
	}
	return nil
}

// requestScope attaches a RequestContext with a request id and a child
// logger. A well-formed incoming X-Request-Id is kept.
func (s *Server) requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(common.RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(common.RequestIDHeader, id)

		log := s.logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
		rc := &RequestContext{ID: id, Logger: log}
		ctx := withRequestContext(r.Context(), rc)
		ctx = logging.IntoContext(ctx, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate verifies the request signature and rejects anonymous
// callers. The specific failure cause is logged; the caller only learns the
// class.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.Verify(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if id == nil {
			writeError(w, r, common.ErrUnauthenticated)
			return
		}

		rc := RequestContextFrom(r.Context())
		if rc == nil {
			rc = &RequestContext{Logger: requestLogger(r.Context())}
		}
		rc.Identity = id
		rc.Logger = rc.Logger.With("account_id", id.AccountID)

		ctx := withRequestContext(r.Context(), rc)
		ctx = logging.IntoContext(ctx, rc.Logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package plugins

import (
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/movio/orchestrator"
)

const RequestIDHeader = "X-Request-Id"

func init() {
	orchestrator.RegisterPlugin(&RequestIdentifierPlugin{})
}

// RequestIdentifierPlugin makes sure every request carries an id. The id is
// forwarded to the downstream services and returned to the client.
type RequestIdentifierPlugin struct {
	orchestrator.BasePlugin
}

func (p *RequestIdentifierPlugin) ID() string {
	return "request-id"
}

func (p *RequestIdentifierPlugin) middleware(h http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)

		ctx := r.Context()
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.Must(uuid.NewV4()).String()
		} else if id, err := uuid.FromString(requestID); err == nil {
			requestID = id.String()
		}
		orchestrator.AddField(ctx, "request.id", requestID)

		ctx = orchestrator.AddOutgoingRequestsHeaderToContext(ctx, RequestIDHeader, requestID)
		rw.Header().Set(RequestIDHeader, requestID)
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func (p *RequestIdentifierPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

func (p *RequestIdentifierPlugin) ApplyMiddlewarePrivateMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

package orchestrator

import (
	"context"
	"net/http"
)

type contextKey string
type orchestratorContextKey int

const requestHeaderContextKey orchestratorContextKey = 1

// AddOutgoingRequestsHeaderToContext adds a header to all outgoings requests for the current query
func AddOutgoingRequestsHeaderToContext(ctx context.Context, key, value string) context.Context {
	h, ok := ctx.Value(requestHeaderContextKey).(http.Header)
	if !ok {
		h = make(http.Header)
	} else {
		h = h.Clone()
	}
	h.Add(key, value)

	return context.WithValue(ctx, requestHeaderContextKey, h)
}

// GetOutgoingRequestHeadersFromContext get the headers that should be added to outgoing requests
func GetOutgoingRequestHeadersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(requestHeaderContextKey).(http.Header)
	return h
}

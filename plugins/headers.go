package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/movio/orchestrator"
)

func init() {
	orchestrator.RegisterPlugin(&HeadersPlugin{})
}

// HeadersPlugin forwards the allowed request headers to every downstream
// call, along with the configured static headers.
type HeadersPlugin struct {
	orchestrator.BasePlugin
	config HeadersPluginConfig
}

type HeadersPluginConfig struct {
	AllowedHeaders []string          `json:"allowed-headers"`
	StaticHeaders  map[string]string `json:"static-headers"`
}

func NewHeadersPlugin(options HeadersPluginConfig) *HeadersPlugin {
	return &HeadersPlugin{orchestrator.BasePlugin{}, options}
}

func (p *HeadersPlugin) ID() string {
	return "headers"
}

func (p *HeadersPlugin) Configure(cfg *orchestrator.Config, data json.RawMessage) error {
	return json.Unmarshal(data, &p.config)
}

func (p *HeadersPlugin) middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for header, value := range p.config.StaticHeaders {
			ctx = orchestrator.AddOutgoingRequestsHeaderToContext(ctx, header, value)
		}
		for _, header := range p.config.AllowedHeaders {
			if value := r.Header.Get(header); value != "" {
				ctx = orchestrator.AddOutgoingRequestsHeaderToContext(ctx, header, value)
			}
		}
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func (p *HeadersPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

func (p *HeadersPlugin) ApplyMiddlewarePrivateMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

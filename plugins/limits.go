package plugins

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/movio/orchestrator"
)

func init() {
	orchestrator.RegisterPlugin(&LimitsPlugin{})
}

// LimitsPlugin bounds the size of incoming requests and the time and number
// of downstream calls made for each of them.
type LimitsPlugin struct {
	orchestrator.BasePlugin
	config LimitsPluginConfig
}

type LimitsPluginConfig struct {
	MaxRequestBytes     int64  `json:"max-request-bytes"`
	MaxResponseTime     string `json:"max-response-time"`
	MaxServiceRequests  int64  `json:"max-service-requests"`
	maxResponseDuration time.Duration
}

func NewLimitsPlugin(options LimitsPluginConfig) (*LimitsPlugin, error) {
	p := &LimitsPlugin{config: options}
	if err := p.config.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LimitsPlugin) ID() string {
	return "limits"
}

// Init applies the limits to the downstream calls. The response time bounds
// each call to a service.
func (p *LimitsPlugin) Init(es *orchestrator.ExecutableSchema) {
	es.DownstreamTimeout = p.config.maxResponseDuration
	if p.config.MaxServiceRequests > 0 {
		es.MaxRequestsPerQuery = p.config.MaxServiceRequests
	}
}

func (p *LimitsPlugin) Configure(cfg *orchestrator.Config, data json.RawMessage) error {
	err := json.Unmarshal(data, &p.config)
	if err != nil {
		return err
	}
	return p.config.validate()
}

func (c *LimitsPluginConfig) validate() error {
	if c.MaxRequestBytes == 0 {
		return fmt.Errorf("MaxRequestBytes is undefined")
	}

	if c.MaxResponseTime == "" {
		return fmt.Errorf("MaxResponseTime is undefined")
	}

	var err error
	c.maxResponseDuration, err = time.ParseDuration(c.MaxResponseTime)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	return nil
}

func (p *LimitsPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, p.config.MaxRequestBytes)
		h.ServeHTTP(w, r)
	})
	return handler
}

package plugins

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/movio/orchestrator"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func init() {
	orchestrator.RegisterPlugin(&CorsPlugin{})
}

// CorsPlugin handles cross-origin requests on both muxes.
type CorsPlugin struct {
	orchestrator.BasePlugin
	config CorsPluginConfig
}

type CorsPluginConfig struct {
	AllowedOrigins   []string `json:"allowed-origins"`
	AllowedHeaders   []string `json:"allowed-headers"`
	AllowedMethods   []string `json:"allowed-methods"`
	AllowCredentials bool     `json:"allow-credentials"`
	MaxAge           int      `json:"max-age"`
	Debug            bool     `json:"debug"`
}

func NewCorsPlugin(options CorsPluginConfig) *CorsPlugin {
	return &CorsPlugin{orchestrator.BasePlugin{}, options}
}

func (p *CorsPlugin) ID() string {
	return "cors"
}

func (p *CorsPlugin) Configure(cfg *orchestrator.Config, data json.RawMessage) error {
	if err := json.Unmarshal(data, &p.config); err != nil {
		return err
	}
	if len(p.config.AllowedMethods) == 0 {
		p.config.AllowedMethods = []string{http.MethodGet, http.MethodPost}
	}
	return nil
}

func (p *CorsPlugin) middleware(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   p.config.AllowedOrigins,
		AllowedHeaders:   p.config.AllowedHeaders,
		AllowedMethods:   p.config.AllowedMethods,
		AllowCredentials: p.config.AllowCredentials,
		MaxAge:           p.config.MaxAge,
		Debug:            p.config.Debug,
	})
	if p.config.Debug {
		c.Log = log.New(logrus.StandardLogger().Writer(), "cors:", log.Lshortfile)
	}
	return c.Handler(h)
}

func (p *CorsPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

func (p *CorsPlugin) ApplyMiddlewarePrivateMux(h http.Handler) http.Handler {
	return p.middleware(h)
}

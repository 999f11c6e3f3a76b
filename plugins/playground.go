package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/movio/orchestrator"
)

func init() {
	orchestrator.RegisterPlugin(&PlaygroundPlugin{})
}

// PlaygroundPlugin serves the GraphQL playground on the public mux.
type PlaygroundPlugin struct {
	orchestrator.BasePlugin
	config PlaygroundPluginConfig
}

type PlaygroundPluginConfig struct {
	Path     string `json:"path"`
	Endpoint string `json:"endpoint"`
}

func (p *PlaygroundPlugin) ID() string {
	return "playground"
}

func (p *PlaygroundPlugin) Configure(cfg *orchestrator.Config, data json.RawMessage) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.config); err != nil {
			return err
		}
	}
	if p.config.Path == "" {
		p.config.Path = "/playground"
	}
	if p.config.Endpoint == "" {
		p.config.Endpoint = "/query"
	}
	return nil
}

func (p *PlaygroundPlugin) SetupPublicMux(mux *http.ServeMux) {
	mux.HandleFunc(p.config.Path, playground.Handler("Orchestrator Playground", p.config.Endpoint))
}

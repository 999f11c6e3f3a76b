package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	log "github.com/sirupsen/logrus"
)

type Gateway struct {
	ExecutableSchema *ExecutableSchema

	plugins []Plugin
}

// NewGateway returns the graphql gateway server mux
func NewGateway(executableSchema *ExecutableSchema, plugins []Plugin) *Gateway {
	return &Gateway{
		ExecutableSchema: executableSchema,
		plugins:          plugins,
	}
}

// FromConfig returns the gateway of an initialized config.
func FromConfig(cfg *Config) *Gateway {
	return NewGateway(cfg.executableSchema, cfg.plugins)
}

// UpdateSchemas polls the services and recomposes the graph every interval
// until ctx is done.
func (g *Gateway) UpdateSchemas(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := g.ExecutableSchema.UpdateSchema(ctx, false)
			if err != nil {
				log.WithError(err).Error("error updating schemas")
			}
		}
	}
}

func (g *Gateway) graphqlHandler(cfg *Config) http.Handler {
	srv := handler.New(g.ExecutableSchema)
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	var maxUploadSize int64
	if cfg != nil {
		maxUploadSize = cfg.MaxFileUploadSize
	}
	srv.AddTransport(transport.MultipartForm{MaxUploadSize: maxUploadSize})
	if cfg == nil || !cfg.DisableIntrospection {
		srv.Use(extension.Introspection{})
	}
	return srv
}

func (g *Gateway) Router(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/query",
		applyMiddleware(
			g.graphqlHandler(cfg),
			debugMiddleware,
		),
	)

	for _, plugin := range g.plugins {
		plugin.SetupPublicMux(mux)
	}

	var result http.Handler = mux

	for i := len(g.plugins) - 1; i >= 0; i-- {
		result = g.plugins[i].ApplyMiddlewarePublicMux(result)
	}

	return applyMiddleware(result, monitoringMiddleware)
}

func (g *Gateway) PrivateRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/schema", g.schemaHandler)
	mux.HandleFunc("/services", g.servicesHandler)

	for _, plugin := range g.plugins {
		plugin.SetupPrivateMux(mux)
	}

	var result http.Handler = mux
	for i := len(g.plugins) - 1; i >= 0; i-- {
		result = g.plugins[i].ApplyMiddlewarePrivateMux(result)
	}

	return result
}

// schemaHandler writes the SDL of the current graph.
func (g *Gateway) schemaHandler(w http.ResponseWriter, r *http.Request) {
	graph := g.ExecutableSchema.Graph()
	if graph == nil {
		http.Error(w, "the gateway schema is not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(formatSchema(graph.Schema())))
}

func (g *Gateway) servicesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.ExecutableSchema.ServiceStatuses()); err != nil {
		log.WithError(err).Error("unable to encode service statuses")
	}
}

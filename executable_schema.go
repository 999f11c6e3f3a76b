package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultPlanCacheSize = 1024

func NewExecutableSchema(plugins []Plugin, maxRequestsPerQuery int64, client *GraphQLClient, services ...*Service) *ExecutableSchema {
	serviceMap := make(map[string]*Service)

	for _, s := range services {
		serviceMap[s.ServiceURL] = s
	}

	if client == nil {
		client = NewClient()
	}

	return &ExecutableSchema{
		Services: serviceMap,

		GraphqlClient:       client,
		MaxRequestsPerQuery: maxRequestsPerQuery,
		PlanCacheSize:       defaultPlanCacheSize,
		plugins:             plugins,
		tracer:              otel.GetTracerProvider().Tracer(instrumentationName),
	}
}

// ExecutableSchema contains all the necessary information to execute queries
type ExecutableSchema struct {
	Services            map[string]*Service
	GraphqlClient       *GraphQLClient
	MaxRequestsPerQuery int64
	// DownstreamTimeout bounds every call made to a service. Zero means no
	// timeout besides the one of the HTTP client.
	DownstreamTimeout time.Duration
	FailFast          bool
	PlanCacheSize     int

	graph     *RuntimeGraph
	planCache *lru.Cache[string, *QueryPlan]

	tracer  trace.Tracer
	mutex   sync.RWMutex
	plugins []Plugin
}

// Graph returns the current graph, nil until a first composition succeeds.
func (s *ExecutableSchema) Graph() *RuntimeGraph {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.graph
}

// SetGraph replaces the graph used to execute queries.
func (s *ExecutableSchema) SetGraph(g *RuntimeGraph) {
	var cache *lru.Cache[string, *QueryPlan]
	if s.PlanCacheSize > 0 {
		// plans reference the strategies of the graph they were built from,
		// each graph gets its own cache
		cache, _ = lru.New[string, *QueryPlan](s.PlanCacheSize)
	}

	s.mutex.Lock()
	s.graph = g
	s.planCache = cache
	s.mutex.Unlock()
}

// UpdateServiceList replaces the list of services with the provided one and
// update the schema.
func (s *ExecutableSchema) UpdateServiceList(ctx context.Context, services []string) error {
	ctx, span := s.tracer.Start(ctx, "Federated Services Update",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.StringSlice("graphql.federation.services", services),
		),
	)

	defer span.End()

	newServices := make(map[string]*Service)
	for _, svcURL := range services {
		if svc, ok := s.Services[svcURL]; ok {
			newServices[svcURL] = svc
		} else {
			newServices[svcURL] = NewService(svcURL, WithClient(s.GraphqlClient))
		}
	}
	s.Services = newServices

	return s.UpdateSchema(ctx, true)
}

// UpdateSchema updates the schema from every service and then composes a new
// graph.
func (s *ExecutableSchema) UpdateSchema(ctx context.Context, forceRebuild bool) error {
	var providers []ServiceProvider
	var updatedServices []string
	var invalidSchema bool

	defer func() {
		if invalidSchema {
			promInvalidSchema.Set(1)
		} else {
			promInvalidSchema.Set(0)
		}
	}()

	var mutex sync.Mutex

	group := errgroup.Group{}
	// Avoid fetching more than 64 servides in parallel,
	// as high concurrency can actually hurt performance
	group.SetLimit(64)
	for url_, s_ := range s.Services {
		url := url_
		s := s_
		group.Go(func() error {
			logger := log.WithField("url", url)
			updated, err := s.Update(ctx)
			if err != nil {
				promServiceUpdateErrorCounter.WithLabelValues(s.ServiceURL).Inc()
				promServiceUpdateErrorGauge.WithLabelValues(s.ServiceURL).Set(1)
				mutex.Lock()
				invalidSchema, forceRebuild = true, true
				mutex.Unlock()
				logger.WithError(err).Error("unable to update service")
				// Ignore this service in this update
				return nil
			}
			promServiceUpdateErrorGauge.WithLabelValues(s.ServiceURL).Set(0)
			logger = log.WithFields(log.Fields{
				"version": s.Version,
				"service": s.Name,
			})

			mutex.Lock()
			defer mutex.Unlock()
			if updated {
				logger.Info("service was updated")
				updatedServices = append(updatedServices, s.Name)
			}

			providers = append(providers, s)

			return nil
		})
	}

	_ = group.Wait()

	if len(updatedServices) == 0 && !forceRebuild && s.Graph() != nil {
		return nil
	}

	log.Info("rebuilding merged schema")
	graph, err := Compose(ctx, providers, WithFailFast(s.FailFast))
	if graph == nil {
		invalidSchema = true
		return fmt.Errorf("update of service %v caused schema error: %w", updatedServices, err)
	}
	if err != nil {
		invalidSchema = true
		log.WithError(err).Warn("merged schema is degraded")
	}

	s.SetGraph(graph)
	return nil
}

// Exec returns the query execution handler
func (s *ExecutableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	return s.ExecuteQuery
}

// ExecuteQuery executes the operation of the gqlgen operation context.
func (s *ExecutableSchema) ExecuteQuery(ctx context.Context) *graphql.Response {
	operationCtx := graphql.GetOperationContext(ctx)

	response, extensions := s.execute(ctx, &executionRequest{
		operation:            operationCtx.Operation,
		operationName:        operationCtx.OperationName,
		rawQuery:             operationCtx.RawQuery,
		variables:            operationCtx.Variables,
		disableIntrospection: operationCtx.DisableIntrospection,
	})
	for name, value := range extensions {
		graphql.RegisterExtension(ctx, name, value)
	}
	return response
}

// Execute executes an operation of a validated document.
func (s *ExecutableSchema) Execute(ctx context.Context, doc *ast.QueryDocument, operationName string, variables map[string]interface{}) *graphql.Response {
	op := selectOperation(doc, operationName)
	if op == nil {
		return &graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("operation %q not found", operationName)}}
	}

	response, extensions := s.execute(ctx, &executionRequest{
		operation:     op,
		operationName: operationName,
		variables:     variables,
	})
	if len(extensions) > 0 {
		response.Extensions = extensions
	}
	return response
}

func selectOperation(doc *ast.QueryDocument, operationName string) *ast.OperationDefinition {
	if operationName == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0]
		}
		return nil
	}
	return doc.Operations.ForName(operationName)
}

type executionRequest struct {
	operation            *ast.OperationDefinition
	operationName        string
	rawQuery             string
	variables            map[string]interface{}
	disableIntrospection bool
}

func (s *ExecutableSchema) execute(ctx context.Context, req *executionRequest) (*graphql.Response, map[string]interface{}) {
	operation := req.operation
	variables := req.variables

	ctx, span := s.tracer.Start(ctx, "Federated GraphQL Query",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			semconv.GraphqlOperationTypeKey.String(string(operation.Operation)),
			semconv.GraphqlOperationName(req.operationName),
			semconv.GraphqlDocument(req.rawQuery),
		),
	)

	defer span.End()

	traceErr := func(err error) {
		if err == nil {
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	for _, plugin := range s.plugins {
		plugin.InterceptRequest(ctx, operation.Name, req.rawQuery, variables)
	}

	AddField(ctx, "operation.name", operation.Name)
	AddField(ctx, "operation.type", operation.Operation)

	s.mutex.RLock()
	graph, planCache := s.graph, s.planCache
	s.mutex.RUnlock()

	if graph == nil {
		err := fmt.Errorf("the gateway schema is not available")
		traceErr(err)
		return s.interceptResponse(ctx, operation.Name, req.rawQuery, variables, &graphql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("%s", err)},
		}), nil
	}

	// The op passed in is a cached value
	// so it must be copied before modification
	operation = evaluateSkipAndInclude(variables, operation)

	if req.disableIntrospection && selectsIntrospection(operation.SelectionSet) {
		err := fmt.Errorf("introspection is disabled")
		traceErr(err)
		return s.interceptResponse(ctx, operation.Name, req.rawQuery, variables, &graphql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("%s", err)},
		}), nil
	}

	plan, err := s.plan(graph, planCache, operation, req)
	if err != nil {
		traceErr(err)
		return s.interceptResponse(ctx, operation.Name, req.rawQuery, variables, &graphql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("%s", err)},
		}), nil
	}

	extensions := make(map[string]interface{})
	timings := make(map[string]interface{})
	if debugInfo, ok := ctx.Value(DebugKey).(DebugInfo); ok {
		if debugInfo.Query {
			extensions["query"] = formatDocument(plan.Operation, req.operationName, graph.Schema(), variables, operation.SelectionSet)
		}
		if debugInfo.Variables {
			extensions["variables"] = variables
		}
		if debugInfo.Plan {
			extensions["plan"] = plan
		}
		if debugInfo.Timing {
			extensions["timings"] = timings
		}
		if debugInfo.TraceID {
			extensions["traceID"] = span.SpanContext().TraceID().String()
		}
	}

	executionStart := time.Now()

	qe := newQueryExecution(ctx, graph, req.operationName, variables, s.DownstreamTimeout, int32(s.MaxRequestsPerQuery))
	data, errs := qe.Execute(plan)

	timings["execution"] = time.Since(executionStart).String()

	formattingStart := time.Now()
	formattedResponse, errs := shapeResponse(graph.Schema(), operation, data, errs)
	timings["format"] = time.Since(formattingStart).String()

	if len(errs) > 0 {
		traceErr(errs)
		AddField(ctx, "errors", errs)
	}

	return s.interceptResponse(ctx, operation.Name, req.rawQuery, variables, &graphql.Response{
		Data:   formattedResponse,
		Errors: errs,
	}), extensions
}

// plan returns the plan of the operation. Operations without variables are
// cached per graph, keyed by their document.
func (s *ExecutableSchema) plan(graph *RuntimeGraph, cache *lru.Cache[string, *QueryPlan], operation *ast.OperationDefinition, req *executionRequest) (*QueryPlan, error) {
	var key string
	if cache != nil && req.rawQuery != "" && len(operation.VariableDefinitions) == 0 {
		key = req.operationName + "\x00" + req.rawQuery
		if plan, ok := cache.Get(key); ok {
			return plan, nil
		}
	}

	plan, err := Plan(&PlanningContext{
		Operation: operation,
		Graph:     graph,
	})
	if err != nil {
		return nil, err
	}

	if key != "" {
		cache.Add(key, plan)
	}
	return plan, nil
}

func selectsIntrospection(selectionSet ast.SelectionSet) bool {
	for _, f := range selectionSetToFields(selectionSet) {
		if f.Name == schemaFieldName || f.Name == typeFieldName {
			return true
		}
	}
	return false
}

func (s *ExecutableSchema) interceptResponse(ctx context.Context, operationName, rawQuery string, variables map[string]interface{}, response *graphql.Response) *graphql.Response {
	for _, plugin := range s.plugins {
		response = plugin.InterceptResponse(ctx, operationName, rawQuery, variables, response)
	}
	return response
}

// Schema returns the merged schema
func (s *ExecutableSchema) Schema() *ast.Schema {
	g := s.Graph()
	if g == nil {
		return EmptyGraph().Schema()
	}
	return g.Schema()
}

// Complexity returns the query complexity (unimplemented)
func (s *ExecutableSchema) Complexity(typeName, fieldName string, childComplexity int, args map[string]interface{}) (int, bool) {
	return 0, false
}

// ServiceStatus is the polling state of a service.
type ServiceStatus struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Schema  string `json:"-"`
}

// ServiceStatuses returns the status of every service, sorted by URL.
func (s *ExecutableSchema) ServiceStatuses() []ServiceStatus {
	res := make([]ServiceStatus, 0, len(s.Services))
	for _, svc := range s.Services {
		svc.mutex.RLock()
		res = append(res, ServiceStatus{
			URL:     svc.ServiceURL,
			Name:    svc.Name,
			Version: svc.Version,
			Status:  svc.Status,
			Schema:  svc.SchemaSource,
		})
		svc.mutex.RUnlock()
	}
	sort.Slice(res, func(i, j int) bool { return res[i].URL < res[j].URL })
	return res
}

func evaluateSkipAndInclude(vars map[string]interface{}, op *ast.OperationDefinition) *ast.OperationDefinition {
	return &ast.OperationDefinition{
		Operation:           op.Operation,
		Name:                op.Name,
		VariableDefinitions: op.VariableDefinitions,
		Directives:          op.Directives,
		SelectionSet:        evaluateSkipAndIncludeRec(vars, op.SelectionSet),
		Position:            op.Position,
	}
}

func evaluateSkipAndIncludeRec(vars map[string]interface{}, selectionSet ast.SelectionSet) ast.SelectionSet {
	if selectionSet == nil {
		return nil
	}
	result := ast.SelectionSet{}
	for _, someSelection := range selectionSet {
		var skipDirective, includeDirective *ast.Directive
		switch selection := someSelection.(type) {
		case *ast.Field:
			skipDirective = selection.Directives.ForName("skip")
			includeDirective = selection.Directives.ForName("include")
		case *ast.InlineFragment:
			skipDirective = selection.Directives.ForName("skip")
			includeDirective = selection.Directives.ForName("include")
		case *ast.FragmentSpread:
			skipDirective = selection.Directives.ForName("skip")
			includeDirective = selection.Directives.ForName("include")
		}
		skip, include := false, true
		if skipDirective != nil {
			skip = resolveIfArgument(skipDirective, vars)
		}
		if includeDirective != nil {
			include = resolveIfArgument(includeDirective, vars)
		}
		if !skip && include {
			switch selection := someSelection.(type) {
			case *ast.Field:
				result = append(result, &ast.Field{
					Alias:            selection.Alias,
					Name:             selection.Name,
					Arguments:        selection.Arguments,
					Directives:       removeSkipAndInclude(selection.Directives),
					SelectionSet:     evaluateSkipAndIncludeRec(vars, selection.SelectionSet),
					Position:         selection.Position,
					Definition:       selection.Definition,
					ObjectDefinition: selection.ObjectDefinition,
				})
			case *ast.InlineFragment:
				result = append(result, &ast.InlineFragment{
					TypeCondition:    selection.TypeCondition,
					Directives:       removeSkipAndInclude(selection.Directives),
					SelectionSet:     evaluateSkipAndIncludeRec(vars, selection.SelectionSet),
					Position:         selection.Position,
					ObjectDefinition: selection.ObjectDefinition,
				})
			case *ast.FragmentSpread:
				result = append(result, &ast.FragmentSpread{
					Name:             selection.Name,
					Directives:       removeSkipAndInclude(selection.Directives),
					Position:         selection.Position,
					ObjectDefinition: selection.ObjectDefinition,
					Definition: &ast.FragmentDefinition{
						Name:               selection.Definition.Name,
						VariableDefinition: selection.Definition.VariableDefinition,
						TypeCondition:      selection.Definition.TypeCondition,
						Directives:         removeSkipAndInclude(selection.Definition.Directives),
						SelectionSet:       evaluateSkipAndIncludeRec(vars, selection.Definition.SelectionSet),
						Definition:         selection.Definition.Definition,
						Position:           selection.Definition.Position,
					},
				})
			}
		}
	}
	return result
}

func removeSkipAndInclude(directives ast.DirectiveList) ast.DirectiveList {
	var result ast.DirectiveList
	for _, d := range directives {
		if d.Name == "include" || d.Name == "skip" {
			continue
		}
		result = append(result, d)
	}
	return result
}

// resolveIfArgument returns the value of the 'if' argument. The document is
// validated, so a missing or non boolean value is treated as false.
func resolveIfArgument(d *ast.Directive, variables map[string]interface{}) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	value, err := arg.Value.Value(variables)
	if err != nil {
		return false
	}
	result, _ := value.(bool)
	return result
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// resolverBatchSize is the number of distinct argument sets sent in a
	// single @resolver document.
	resolverBatchSize = 50
	// maxResolverDepth bounds how deeply @resolver queries can nest.
	maxResolverDepth = 10
)

type queryExecution struct {
	ctx           context.Context
	graph         *RuntimeGraph
	schema        *ast.Schema
	operationName string
	variables     map[string]interface{}
	timeout       time.Duration
	maxRequest    int32
	requestCount  *int32
	depth         int
	tracer        trace.Tracer

	mutex  sync.Mutex
	data   map[string]interface{}
	errors gqlerror.List
}

func newQueryExecution(ctx context.Context, graph *RuntimeGraph, operationName string, variables map[string]interface{}, timeout time.Duration, maxRequest int32) *queryExecution {
	var count int32
	return &queryExecution{
		ctx:           ctx,
		graph:         graph,
		schema:        graph.Schema(),
		operationName: operationName,
		variables:     variables,
		timeout:       timeout,
		maxRequest:    maxRequest,
		requestCount:  &count,
		tracer:        otel.Tracer(instrumentationName),
	}
}

// child returns an execution for a @resolver document. It shares the request
// budget of q.
func (q *queryExecution) child() *queryExecution {
	return &queryExecution{
		ctx:          q.ctx,
		graph:        q.graph,
		schema:       q.schema,
		timeout:      q.timeout,
		maxRequest:   q.maxRequest,
		requestCount: q.requestCount,
		depth:        q.depth + 1,
		tracer:       q.tracer,
	}
}

// Execute runs the plan and returns the unshaped data, which still contains
// the injected fields, along with the execution errors.
func (q *queryExecution) Execute(plan *QueryPlan) (map[string]interface{}, gqlerror.List) {
	q.data = make(map[string]interface{})

	if plan.Operation == OperationMutation {
		// top-level mutation fields run serially in selection order
		for _, step := range plan.RootSteps {
			if step.Kind == StepResolver {
				q.executeSteps([]*QueryPlanStep{step})
				continue
			}
			q.executeRootStep(step)
		}
		return q.data, q.errors
	}

	var resolverSteps []*QueryPlanStep
	// steps never return an error so that a failing service doesn't
	// cancel its siblings
	var group errgroup.Group
	for _, step := range plan.RootSteps {
		if step.Kind == StepResolver {
			resolverSteps = append(resolverSteps, step)
			continue
		}
		step := step
		group.Go(func() error {
			q.executeRootStep(step)
			return nil
		})
	}
	// root resolver steps never read parent fields
	if len(resolverSteps) > 0 {
		group.Go(func() error {
			q.executeSteps(resolverSteps)
			return nil
		})
	}
	_ = group.Wait()

	return q.data, q.errors
}

func (q *queryExecution) executeRootStep(step *QueryPlanStep) {
	switch step.Kind {
	case StepLocal:
		q.executeLocalStep(step, []parentObject{{value: q.data}})
	case StepDelegate:
		q.executeDelegateStep(step)
		q.executeSteps(step.Then)
	}
}

// executeSteps runs child steps, each one once the steps it depends on are
// complete. Independent steps run concurrently.
func (q *queryExecution) executeSteps(steps []*QueryPlanStep) {
	if len(steps) == 0 {
		return
	}

	planned := make(map[*QueryPlanStep]bool, len(steps))
	for _, s := range steps {
		planned[s] = true
	}
	done := make(map[*QueryPlanStep]bool, len(steps))

	remaining := steps
	for len(remaining) > 0 {
		var ready, pending []*QueryPlanStep
		for _, s := range remaining {
			if stepReady(s, planned, done) {
				ready = append(ready, s)
			} else {
				pending = append(pending, s)
			}
		}
		if len(ready) == 0 {
			ready, pending = pending, nil
		}

		var group errgroup.Group
		for _, s := range ready {
			s := s
			group.Go(func() error {
				q.executeChildStep(s)
				return nil
			})
		}
		_ = group.Wait()

		for _, s := range ready {
			done[s] = true
		}
		remaining = pending
	}
}

func stepReady(step *QueryPlanStep, planned, done map[*QueryPlanStep]bool) bool {
	for _, d := range step.DependsOn {
		if planned[d] && !done[d] {
			return false
		}
	}
	return true
}

func (q *queryExecution) executeChildStep(step *QueryPlanStep) {
	switch step.Kind {
	case StepLocal:
		q.executeLocalStep(step, q.collectParents(step))
	case StepResolver:
		q.executeResolverStep(step)
	}
}

type parentObject struct {
	path  ast.Path
	value map[string]interface{}
}

// collectParents returns the objects found at the insertion point of step.
func (q *queryExecution) collectParents(step *QueryPlanStep) []parentObject {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var res []parentObject
	collectParentObjects(q.data, nil, step.InsertionPoint, step.ParentType, &res)
	return res
}

func collectParentObjects(data interface{}, path ast.Path, insertionPoint []string, typeName string, res *[]parentObject) {
	switch v := data.(type) {
	case map[string]interface{}:
		if len(insertionPoint) == 0 {
			if t, ok := v[injectedTypenameFieldAlias].(string); ok && t != typeName {
				return
			}
			*res = append(*res, parentObject{path: path, value: v})
			return
		}
		collectParentObjects(v[insertionPoint[0]], extendPath(path, ast.PathName(insertionPoint[0])), insertionPoint[1:], typeName, res)
	case []interface{}:
		for i, elem := range v {
			collectParentObjects(elem, extendPath(path, ast.PathIndex(i)), insertionPoint, typeName, res)
		}
	}
}

func extendPath(path ast.Path, elems ...ast.PathElement) ast.Path {
	res := make(ast.Path, 0, len(path)+len(elems))
	res = append(res, path...)
	return append(res, elems...)
}

func (q *queryExecution) executeLocalStep(step *QueryPlanStep, parents []parentObject) {
	for _, p := range parents {
		value, err := step.Local.Resolve(q.ctx, q.schema, step.Field, q.variables)

		q.mutex.Lock()
		p.value[step.Field.Alias] = value
		if err != nil {
			q.errors = append(q.errors, &gqlerror.Error{
				Message: err.Error(),
				Path:    extendPath(p.path, ast.PathName(step.Field.Alias)),
				Extensions: map[string]interface{}{
					"serviceName": internalServiceName,
				},
			})
		}
		q.mutex.Unlock()
	}
}

func (q *queryExecution) executeDelegateStep(step *QueryPlanStep) {
	var aliases []string
	for _, f := range selectionSetToFields(step.SelectionSet) {
		aliases = append(aliases, f.Alias)
	}

	op := OperationQuery
	if step.ParentType == mutationObjectName {
		op = OperationMutation
	}
	document := formatDocument(op, q.operationName, q.schema, q.variables, step.SelectionSet)
	data, err := q.executeDocument(step.ServiceName, document)

	q.mutex.Lock()
	defer q.mutex.Unlock()
	for _, alias := range aliases {
		q.data[alias] = data[alias]
	}
	if err != nil {
		q.errors = append(q.errors, downstreamErrors(step.ServiceName, nil, aliases, err)...)
	}
}

func (q *queryExecution) countRequest() error {
	n := atomic.AddInt32(q.requestCount, 1)
	if q.maxRequest > 0 && n > q.maxRequest {
		return fmt.Errorf("exceeded max requests of %v", q.maxRequest)
	}
	return nil
}

// executeDocument sends document to the service. A non-nil error is either
// GraphqlErrors, returned with the partial data, or a DownstreamCallError.
func (q *queryExecution) executeDocument(serviceName, document string) (map[string]interface{}, error) {
	svc, ok := q.graph.Service(serviceName)
	if !ok {
		return nil, &DownstreamCallError{Service: serviceName, Err: fmt.Errorf("unknown service")}
	}
	if err := q.countRequest(); err != nil {
		return nil, &DownstreamCallError{Service: serviceName, Err: err}
	}

	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	ctx, span := q.tracer.Start(ctx, "Downstream Request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("graphql.federation.service", serviceName)),
	)
	defer span.End()

	req := NewRequest(document).
		WithOperationName(q.operationName).
		WithHeaders(GetOutgoingRequestHeadersFromContext(q.ctx))

	start := time.Now()
	data, err := svc.ExecuteQuery(ctx, req)
	promDownstreamDurations.WithLabelValues(serviceName).Observe(time.Since(start).Seconds())
	if err == nil {
		meters.recordDownstreamCall(q.ctx, serviceName, nil)
		return data, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var gqlErrs GraphqlErrors
	if errors.As(err, &gqlErrs) {
		meters.recordDownstreamCall(q.ctx, serviceName, err)
		return data, err
	}

	timeout := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if timeout {
		promServiceTimeoutErrorCounter.WithLabelValues(serviceName).Inc()
	}
	callErr := &DownstreamCallError{Service: serviceName, Timeout: timeout, Err: err}
	meters.recordDownstreamCall(q.ctx, serviceName, callErr)
	return nil, callErr
}

// downstreamErrors converts an error returned by a service. Errors reported
// by the service keep their path, under basePath. Transport failures yield
// one error per requested field.
func downstreamErrors(serviceName string, basePath ast.Path, fields []string, err error) gqlerror.List {
	var res gqlerror.List

	var gqlErrs GraphqlErrors
	if errors.As(err, &gqlErrs) {
		for _, ge := range gqlErrs {
			extensions := make(map[string]interface{}, len(ge.Extensions)+1)
			for k, v := range ge.Extensions {
				extensions[k] = v
			}
			extensions["serviceName"] = serviceName
			res = append(res, &gqlerror.Error{
				Message:    ge.Message,
				Path:       extendPath(basePath, responsePath(ge.Path)...),
				Extensions: extensions,
			})
		}
		return res
	}

	for _, f := range fields {
		res = append(res, &gqlerror.Error{
			Message: err.Error(),
			Path:    extendPath(basePath, ast.PathName(f)),
			Extensions: map[string]interface{}{
				"serviceName": serviceName,
			},
		})
	}
	return res
}

func responsePath(path []interface{}) ast.Path {
	res := make(ast.Path, 0, len(path))
	for _, p := range path {
		switch p := p.(type) {
		case string:
			res = append(res, ast.PathName(p))
		case float64:
			res = append(res, ast.PathIndex(int(p)))
		case int:
			res = append(res, ast.PathIndex(p))
		}
	}
	return res
}

type resolverCall struct {
	arguments string
	alias     string
	parents   []parentObject
}

func (q *queryExecution) executeResolverStep(step *QueryPlanStep) {
	parents := q.collectParents(step)
	if len(parents) == 0 {
		return
	}

	var calls []*resolverCall
	byArguments := make(map[string]*resolverCall)

	q.mutex.Lock()
	for _, p := range parents {
		arguments, ok := q.resolverArguments(step, p.value)
		if !ok {
			// a required argument is null, the field is null as well
			q.insertResolverValue(step, p, nil)
			continue
		}
		c, ok := byArguments[arguments]
		if !ok {
			c = &resolverCall{arguments: arguments}
			byArguments[arguments] = c
			calls = append(calls, c)
		}
		c.parents = append(c.parents, p)
	}
	q.mutex.Unlock()

	var group errgroup.Group
	for start := 0; start < len(calls); start += resolverBatchSize {
		end := start + resolverBatchSize
		if end > len(calls) {
			end = len(calls)
		}
		batch := calls[start:end]
		group.Go(func() error {
			q.executeResolverBatch(step, batch)
			return nil
		})
	}
	_ = group.Wait()
}

// resolverArguments returns the argument list of the target field for the
// given parent. It returns false if a non-null argument has no value.
func (q *queryExecution) resolverArguments(step *QueryPlanStep, parent map[string]interface{}) (string, bool) {
	rc := step.Resolver
	var args []string
	for _, a := range rc.Arguments {
		var value string
		switch a.Source {
		case ArgumentLiteral:
			value = formatLiteral(q.schema, a.Type, a.Value)
		case ArgumentFromFieldArgument:
			if arg := step.Field.Arguments.ForName(a.Ref); arg != nil {
				value = formatArgument(q.schema, arg.Value, q.variables)
			} else if def := rc.Field.Arguments.ForName(a.Ref); def != nil && def.DefaultValue != nil {
				value = formatArgument(q.schema, def.DefaultValue, q.variables)
			} else {
				continue
			}
			if value == "null" && a.Type.NonNull {
				return "", false
			}
		case ArgumentFromParentField:
			v, ok := parent[injectedFieldAlias(a.Ref)]
			if !ok {
				v = parent[a.Ref]
			}
			if v == nil && a.Type.NonNull {
				return "", false
			}
			value = formatValue(q.schema, a.Type, v)
		}
		args = append(args, a.Name+": "+value)
	}
	return strings.Join(args, ", "), true
}

// resolverDocument builds one aliased selection of the target field per
// call:
//
//	query { _0: a { b(id: "1") { ... } } _1: a { b(id: "2") { ... } } }
func (q *queryExecution) resolverDocument(step *QueryPlanStep, calls []*resolverCall) string {
	path := step.Resolver.TargetPath
	var selection string
	if len(step.SelectionSet) > 0 {
		selection = " " + formatSelectionSet(q.schema, q.variables, step.SelectionSet)
	}

	var sb strings.Builder
	sb.WriteString("query {")
	for i, c := range calls {
		c.alias = fmt.Sprintf("_%d", i)
		sb.WriteString(" ")
		sb.WriteString(c.alias)
		sb.WriteString(": ")
		for j, segment := range path {
			if j > 0 {
				sb.WriteString(" { ")
			}
			sb.WriteString(segment)
		}
		if c.arguments != "" {
			sb.WriteString("(")
			sb.WriteString(c.arguments)
			sb.WriteString(")")
		}
		sb.WriteString(selection)
		sb.WriteString(strings.Repeat(" }", len(path)-1))
	}
	sb.WriteString(" }")
	return sb.String()
}

func (q *queryExecution) executeResolverBatch(step *QueryPlanStep, calls []*resolverCall) {
	rc := step.Resolver
	meters.recordResolverBatch(q.ctx, rc.Coordinate, len(calls))
	document := q.resolverDocument(step, calls)
	data, errs, err := q.executeSubQuery(document)

	q.mutex.Lock()
	defer q.mutex.Unlock()

	byAlias := make(map[string]*resolverCall, len(calls))
	for _, c := range calls {
		byAlias[c.alias] = c
		var value interface{}
		if err == nil {
			value = targetValue(data[c.alias], rc.TargetPath[1:])
		}
		for _, p := range c.parents {
			q.insertResolverValue(step, p, value)
			if err != nil {
				q.errors = append(q.errors, &gqlerror.Error{
					Message: err.Error(),
					Path:    extendPath(p.path, ast.PathName(step.Field.Alias)),
					Extensions: map[string]interface{}{
						"serviceName": rc.TargetService,
					},
				})
			}
		}
	}

	for _, e := range errs {
		c := resolverCallForPath(byAlias, e.Path)
		if c == nil {
			q.errors = append(q.errors, e)
			continue
		}
		var rest ast.Path
		if len(e.Path) > len(rc.TargetPath) {
			rest = e.Path[len(rc.TargetPath):]
		}
		for _, p := range c.parents {
			remapped := *e
			remapped.Path = extendPath(p.path, append(ast.Path{ast.PathName(step.Field.Alias)}, rest...)...)
			q.errors = append(q.errors, &remapped)
		}
	}
}

// insertResolverValue stores the value of a resolver step in its parent.
// The caller holds the mutex.
func (q *queryExecution) insertResolverValue(step *QueryPlanStep, parent parentObject, value interface{}) {
	parent.value[step.Field.Alias] = value
	if step.Provides {
		parent.value[injectedFieldAlias(step.Field.Name)] = value
	}
}

func resolverCallForPath(calls map[string]*resolverCall, path ast.Path) *resolverCall {
	if len(path) == 0 {
		return nil
	}
	name, ok := path[0].(ast.PathName)
	if !ok {
		return nil
	}
	return calls[string(name)]
}

func targetValue(v interface{}, path []string) interface{} {
	for _, segment := range path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[segment]
	}
	return v
}

// executeSubQuery plans and executes a @resolver document against the whole
// graph, so that nested stitched fields are resolved as well.
func (q *queryExecution) executeSubQuery(document string) (map[string]interface{}, gqlerror.List, error) {
	if q.depth >= maxResolverDepth {
		return nil, nil, fmt.Errorf("field resolvers are nested more than %d levels deep", maxResolverDepth)
	}

	doc, gqlErrs := gqlparser.LoadQuery(q.schema, document)
	if len(gqlErrs) > 0 {
		return nil, nil, gqlErrs
	}
	if len(doc.Operations) != 1 {
		return nil, nil, fmt.Errorf("expected a single operation")
	}

	plan, err := Plan(&PlanningContext{
		Operation: evaluateSkipAndInclude(nil, doc.Operations[0]),
		Graph:     q.graph,
	})
	if err != nil {
		return nil, nil, err
	}

	data, errs := q.child().Execute(plan)
	return data, errs, nil
}

package orchestrator

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// Operation is a GraphQL operation kind. Every graph has exactly one root
// object type per operation.
type Operation string

const (
	OperationQuery        Operation = "QUERY"
	OperationMutation     Operation = "MUTATION"
	OperationSubscription Operation = "SUBSCRIPTION"
)

const (
	queryObjectName        = "Query"
	mutationObjectName     = "Mutation"
	subscriptionObjectName = "Subscription"
)

// Operations returns every operation kind in declaration order.
func Operations() []Operation {
	return []Operation{OperationQuery, OperationMutation, OperationSubscription}
}

// TypeName returns the name of the gateway root object for the operation.
func (o Operation) TypeName() string {
	switch o {
	case OperationQuery:
		return queryObjectName
	case OperationMutation:
		return mutationObjectName
	case OperationSubscription:
		return subscriptionObjectName
	}
	return ""
}

func (o Operation) String() string {
	return string(o)
}

// emptyRootType returns an object definition without any field.
func (o Operation) emptyRootType() *ast.Definition {
	return &ast.Definition{
		Kind: ast.Object,
		Name: o.TypeName(),
	}
}

// OperationFromAST maps a parsed operation keyword to an Operation.
func OperationFromAST(op ast.Operation) (Operation, bool) {
	switch op {
	case ast.Query:
		return OperationQuery, true
	case ast.Mutation:
		return OperationMutation, true
	case ast.Subscription:
		return OperationSubscription, true
	}
	return "", false
}

// OperationForTypeName returns the operation whose root object is named
// typeName.
func OperationForTypeName(typeName string) (Operation, bool) {
	for _, op := range Operations() {
		if op.TypeName() == typeName {
			return op, true
		}
	}
	return "", false
}

// rootOperation returns the operation a service schema uses def for, if any.
// Services may name their root types freely.
func rootOperation(schema *ast.Schema, def *ast.Definition) (Operation, bool) {
	switch {
	case schema.Query != nil && schema.Query.Name == def.Name:
		return OperationQuery, true
	case schema.Mutation != nil && schema.Mutation.Name == def.Name:
		return OperationMutation, true
	case schema.Subscription != nil && schema.Subscription.Name == def.Name:
		return OperationSubscription, true
	}
	return "", false
}

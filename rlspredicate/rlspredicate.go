// Package rlspredicate compiles row-level-security expressions into the
// opaque executor.Predicate callable the executor evaluates against every
// candidate document (spec §4.5 Inputs: "the RLS predicate is an opaque
// callable supplied by an upstream auth layer").
package rlspredicate

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/kartikbazzad/corebase/internal/executor"
)

// AuthContext is the caller identity made available to a compiled
// predicate as the `auth` variable.
type AuthContext struct {
	UID    string
	Claims map[string]interface{}
}

// Engine compiles and caches CEL programs for RLS expressions such as
// `auth.uid == resource.owner_id`. One Engine is shared process-wide.
type Engine struct {
	env      *cel.Env
	prgCache sync.Map // expression string -> cel.Program
}

// NewEngine builds an Engine with the `auth` and `resource` variables
// every RLS expression may reference.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("auth", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("resource", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile parses and caches expression, returning an executor.Predicate
// bound to auth. The identity expression "true" is the sanctioned
// service-role bypass (spec §4.5: "except via an explicit service-role
// predicate that is the identity function").
func (e *Engine) Compile(expression string, auth AuthContext) (executor.Predicate, error) {
	if expression == "" {
		return func(map[string]interface{}) bool { return false }, nil
	}

	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	authMap := map[string]interface{}{"uid": auth.UID, "claims": auth.Claims}
	return func(doc map[string]interface{}) bool {
		out, _, err := prg.Eval(map[string]interface{}{
			"auth":     authMap,
			"resource": doc,
		})
		if err != nil {
			return false
		}
		result, ok := out.Value().(bool)
		return ok && result
	}, nil
}

func (e *Engine) program(expression string) (cel.Program, error) {
	if cached, ok := e.prgCache.Load(expression); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile RLS expression %q: %w", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build RLS program %q: %w", expression, err)
	}
	e.prgCache.Store(expression, prg)
	return prg, nil
}

package compiler

import (
	"errors"
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/graphsync/internal/ir"
)

// collectionKeys are the fields a collection definition may set.
var collectionKeys = []string{
	"singleton", "updatable", "ignore", "creatable", "match", "refs", "no_deletions",
}

// CompileGraph parses a CUE value into a GraphSchema.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the graph struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`graph: workflow: { collection: node: {} }`)
//	g, err := CompileGraph(v.LookupPath(cue.ParsePath("graph.workflow")))
//
// Structural problems are returned as a *CompileError. Semantic problems
// (unknown ref targets, self references, cycles, identity misuse) are all
// reported at once, joined with errors.Join, each a *CompileError.
func CompileGraph(v cue.Value) (*ir.GraphSchema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	g := &ir.GraphSchema{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		g.Name = labels[len(labels)-1].String()
	}

	colsVal := v.LookupPath(cue.ParsePath("collection"))
	if !colsVal.Exists() {
		return nil, &CompileError{
			Graph:   g.Name,
			Field:   "collection",
			Code:    ErrGraphNoCollections,
			Message: "at least one collection is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := colsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	positions := make(map[string]token.Pos)
	for iter.Next() {
		c, err := compileCollection(g.Name, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		positions[c.Name] = iter.Value().Pos()
		g.Collections = append(g.Collections, c)
	}

	if verrs := Validate(g); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, ve := range verrs {
			pos := positions[ve.Collection]
			if !pos.IsValid() {
				pos = v.Pos()
			}
			errs[i] = &CompileError{
				Graph:      g.Name,
				Collection: ve.Collection,
				Field:      ve.Field,
				Code:       ve.Code,
				Message:    ve.Message,
				Pos:        pos,
			}
		}
		return nil, errors.Join(errs...)
	}

	g.Order, err = Order(g)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// compileCollection parses one collection definition.
func compileCollection(graph, name string, v cue.Value) (ir.CollectionSchema, error) {
	c := ir.CollectionSchema{Name: name}

	fields, err := v.Fields()
	if err != nil {
		return c, formatCUEError(err)
	}
	for fields.Next() {
		if !slices.Contains(collectionKeys, fields.Label()) {
			return c, &CompileError{
				Graph:      graph,
				Collection: name,
				Field:      fields.Label(),
				Code:       ErrUnknownKey,
				Message:    fmt.Sprintf("unknown key, expected one of %v", collectionKeys),
				Pos:        fields.Value().Pos(),
			}
		}
	}

	e := &collectionParser{graph: graph, name: name, v: v}
	c.Singleton = e.readBool("singleton")
	c.NoDeletions = e.readBool("no_deletions")
	c.Updatable = e.readStrings("updatable")
	c.Ignore = e.readStrings("ignore")
	c.Creatable = e.readStrings("creatable")
	c.Match = e.readStrings("match")
	c.Refs = e.refs()
	if e.err != nil {
		return c, e.err
	}
	return c, nil
}

// collectionParser reads typed fields, keeping the first error.
type collectionParser struct {
	graph string
	name  string
	v     cue.Value
	err   error
}

func (p *collectionParser) fail(field, msg string, pos token.Pos) {
	if p.err == nil {
		p.err = &CompileError{
			Graph:      p.graph,
			Collection: p.name,
			Field:      field,
			Code:       ErrInvalidFieldType,
			Message:    msg,
			Pos:        pos,
		}
	}
}

func (p *collectionParser) readBool(field string) bool {
	fv := p.v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false
	}
	b, err := fv.Bool()
	if err != nil {
		p.fail(field, "must be a bool", fv.Pos())
		return false
	}
	return b
}

func (p *collectionParser) readStrings(field string) []string {
	fv := p.v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.List()
	if err != nil {
		p.fail(field, "must be a list of strings", fv.Pos())
		return nil
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			p.fail(field, "must be a list of strings", iter.Value().Pos())
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (p *collectionParser) refs() map[string]string {
	fv := p.v.LookupPath(cue.ParsePath("refs"))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.Fields()
	if err != nil {
		p.fail("refs", "must be a struct of field: collection", fv.Pos())
		return nil
	}
	refs := make(map[string]string)
	for iter.Next() {
		target, err := iter.Value().String()
		if err != nil {
			p.fail("refs."+iter.Label(), "target must be a collection name", iter.Value().Pos())
			return nil
		}
		refs[iter.Label()] = target
	}
	return refs
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Graph      string
	Collection string
	Field      string
	Code       string
	Message    string
	Pos        token.Pos
}

func (e *CompileError) Error() string {
	where := e.Field
	if e.Collection != "" {
		where = fmt.Sprintf("graph.%s.collection.%s", e.Graph, e.Collection)
		if e.Field != "" {
			where += "." + e.Field
		}
	}
	code := ""
	if e.Code != "" {
		code = "[" + e.Code + "] "
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s%s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			code, where, e.Message)
	}
	return fmt.Sprintf("%s%s: %s", code, where, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

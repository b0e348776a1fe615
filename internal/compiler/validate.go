package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/graphsync/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidFieldType   = "E100" // field has the wrong CUE type
	ErrUnknownKey         = "E101" // collection sets an unknown key
	ErrGraphNoCollections = "E102" // graph has no collections
	ErrInvalidName        = "E103" // empty graph, collection, or field name
	ErrDuplicateName      = "E104" // collection or list entry repeated

	ErrUnknownRefTarget = "E110" // ref points at a collection not in the graph
	ErrSelfReference    = "E111" // ref points at its own collection
	ErrReferenceCycle   = "E112" // refs form a cycle between collections
	ErrIdentityField    = "E113" // identity field used where it cannot be
	ErrFieldConflict    = "E114" // field both updatable and ignored
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Collection string `json:"collection,omitempty"`
	Field      string `json:"field"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Collection, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a graph schema. Returns all errors found (does not
// fail-fast). Cycle detection runs only when every ref resolves.
//
// Self references are rejected rather than ordered: a collection whose
// records reference each other cannot have both sides created in one pass.
// Model the edge as its own, deeper collection instead.
func Validate(g *ir.GraphSchema) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(g.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "graph name is required", Code: ErrInvalidName})
	}
	if len(g.Collections) == 0 {
		errs = append(errs, ValidationError{Field: "collection", Message: "at least one collection is required", Code: ErrGraphNoCollections})
		return errs
	}

	names := make(map[string]bool, len(g.Collections))
	for i, c := range g.Collections {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("collections[%d].name", i),
				Message: "collection name is required",
				Code:    ErrInvalidName,
			})
			continue
		}
		if names[c.Name] {
			errs = append(errs, ValidationError{
				Collection: c.Name,
				Field:      "name",
				Message:    fmt.Sprintf("duplicate collection %q", c.Name),
				Code:       ErrDuplicateName,
			})
		}
		names[c.Name] = true
	}

	refsResolve := true
	for _, c := range g.Collections {
		errs = append(errs, validateFieldLists(c)...)

		for _, field := range c.RefFields() {
			target := c.Refs[field]
			switch {
			case field == ir.IDField:
				errs = append(errs, ValidationError{
					Collection: c.Name,
					Field:      "refs." + field,
					Message:    "the identity field cannot be a reference",
					Code:       ErrIdentityField,
				})
			case target == c.Name:
				refsResolve = false
				errs = append(errs, ValidationError{
					Collection: c.Name,
					Field:      "refs." + field,
					Message:    "a collection cannot reference itself; split the edge into its own collection",
					Code:       ErrSelfReference,
				})
			case !names[target]:
				refsResolve = false
				errs = append(errs, ValidationError{
					Collection: c.Name,
					Field:      "refs." + field,
					Message:    fmt.Sprintf("unknown target collection %q", target),
					Code:       ErrUnknownRefTarget,
				})
			}
		}
	}

	if refsResolve {
		for _, cycle := range FindCycles(g) {
			errs = append(errs, ValidationError{
				Collection: cycle[0],
				Field:      "refs",
				Message:    "reference cycle: " + strings.Join(cycle, " -> "),
				Code:       ErrReferenceCycle,
			})
		}
	}

	return errs
}

// validateFieldLists checks updatable, ignore, creatable, and match.
func validateFieldLists(c ir.CollectionSchema) []ValidationError {
	var errs []ValidationError

	lists := []struct {
		name       string
		fields     []string
		identityOK bool
	}{
		{"updatable", c.Updatable, false},
		{"ignore", c.Ignore, true},
		{"creatable", c.Creatable, false},
		{"match", c.Match, false},
	}
	for _, l := range lists {
		seen := make(map[string]bool, len(l.fields))
		for i, f := range l.fields {
			path := fmt.Sprintf("%s[%d]", l.name, i)
			switch {
			case strings.TrimSpace(f) == "":
				errs = append(errs, ValidationError{Collection: c.Name, Field: path, Message: "field name is required", Code: ErrInvalidName})
			case f == ir.IDField && !l.identityOK:
				errs = append(errs, ValidationError{
					Collection: c.Name,
					Field:      path,
					Message:    fmt.Sprintf("the identity field %q is implicit and cannot be listed in %s", ir.IDField, l.name),
					Code:       ErrIdentityField,
				})
			case seen[f]:
				errs = append(errs, ValidationError{Collection: c.Name, Field: path, Message: fmt.Sprintf("duplicate field %q", f), Code: ErrDuplicateName})
			}
			seen[f] = true
		}
	}

	for _, f := range c.Updatable {
		if slices.Contains(c.Ignore, f) {
			errs = append(errs, ValidationError{
				Collection: c.Name,
				Field:      "updatable",
				Message:    fmt.Sprintf("field %q is both updatable and ignored", f),
				Code:       ErrFieldConflict,
			})
		}
	}

	return errs
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/graphsync/internal/compiler"
	"github.com/roach88/graphsync/internal/ir"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first graph that fails to compile.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll compiles every graph and collects all errors.
	LoadModeCollectAll
)

// LoadResult contains the graphs compiled from a schema directory.
type LoadResult struct {
	Graphs    []*ir.GraphSchema
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Graph returns the named graph. When name is empty and exactly one graph
// was loaded, that graph is returned.
func (r *LoadResult) Graph(name string) (*ir.GraphSchema, error) {
	if name == "" {
		if len(r.Graphs) == 1 {
			return r.Graphs[0], nil
		}
		return nil, &LoadError{
			Code:    ErrCodeGraphNotFound,
			Message: fmt.Sprintf("--graph is required when schemas declare %d graphs (%s)", len(r.Graphs), strings.Join(r.names(), ", ")),
		}
	}
	for _, g := range r.Graphs {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, &LoadError{
		Code:    ErrCodeGraphNotFound,
		Message: fmt.Sprintf("graph %q not found (have %s)", name, strings.Join(r.names(), ", ")),
	}
}

func (r *LoadResult) names() []string {
	names := make([]string, len(r.Graphs))
	for i, g := range r.Graphs {
		names[i] = g.Name
	}
	return names
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemas loads CUE files from a directory and compiles every graph
// declared under the top-level graph key.
// If mode is LoadModeFailFast, returns after the first graph that fails.
// If mode is LoadModeCollectAll, collects all errors.
func LoadSchemas(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	graphsVal := value.LookupPath(cue.ParsePath("graph"))
	if !graphsVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeNoGraphs, Message: "no graphs declared under the graph key"}}
	}
	iter, err := graphsVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating graphs: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		g, compileErr := compiler.CompileGraph(iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "graph."+iter.Label())...)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Graphs = append(result.Graphs, g)
	}

	if len(result.Graphs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoGraphs, Message: "no graphs declared under the graph key"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError flattens a compiler error, which may join several
// *compiler.CompileError values, into LoadErrors with position info.
func convertCompileError(err error, context string) []error {
	var parts []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts = joined.Unwrap()
	} else {
		parts = []error{err}
	}

	out := make([]error, 0, len(parts))
	for _, part := range parts {
		var compileErr *compiler.CompileError
		if errors.As(part, &compileErr) {
			out = append(out, &LoadError{
				Code:    codeOrGeneric(compileErr.Code),
				Message: compileErr.Error(),
				Pos:     compileErr.Pos,
			})
			continue
		}
		out = append(out, &LoadError{
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("%s: %v", context, part),
		})
	}
	return out
}

func codeOrGeneric(code string) string {
	if code == "" {
		return ErrCodeGeneric
	}
	return code
}

// Error code constants shared by all CLI commands. Schema problems use the
// compiler's E100-E199 codes.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeNoGraphs      = "E008" // No graph declared
	ErrCodeGraphNotFound = "E009" // --graph names an unknown graph
	ErrCodeDocument      = "E010" // Desired document unreadable or invalid
	ErrCodeDatabase      = "E011" // Database open or read failed
	ErrCodeChainBroken   = "E012" // Change log hash chain does not verify
	ErrCodeScenarioFail  = "E013" // One or more scenarios failed
)

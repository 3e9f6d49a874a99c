package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue/token"

	"github.com/mwald/warden/internal/compiler"
)

// LoadMode controls how errors are handled during rule-file loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains everything compiled from a path.
type LoadResult struct {
	File      compiler.File // merged rules and sets across all files
	FileCount int           // number of CUE files found
}

// LoadError represents an error that occurred during rule loading.
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

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric   = "E001" // Generic/unknown error
	ErrCodeScanError = "E002" // Directory scan error
	ErrCodeNoFiles   = "E003" // No CUE files found
	ErrCodeNotFound  = "E005" // Path not found
	ErrCodeCompile   = "E010" // Rule compilation error
	ErrCodeDuplicate = "E011" // Duplicate rule or set id across files
)

// LoadRules compiles one CUE rule file or every .cue file under a
// directory, merging the results.
func LoadRules(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing path: %v", err)}}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
	}

	result := &LoadResult{FileCount: len(files)}
	var errs []error
	seenRules := map[string]string{}
	seenSets := map[string]string{}

	for _, f := range files {
		compiled, err := compiler.CompileFile(f)
		if err != nil {
			errs = append(errs, convertCompileError(err, f))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		for _, r := range compiled.Rules {
			if prev, dup := seenRules[r.ID]; dup {
				errs = append(errs, &LoadError{
					Code:    ErrCodeDuplicate,
					Message: fmt.Sprintf("rule %q defined in both %s and %s", r.ID, prev, f),
				})
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			seenRules[r.ID] = f
			result.File.Rules = append(result.File.Rules, r)
		}
		for _, s := range compiled.Sets {
			if prev, dup := seenSets[s.Set.ID]; dup {
				errs = append(errs, &LoadError{
					Code:    ErrCodeDuplicate,
					Message: fmt.Sprintf("set %q defined in both %s and %s", s.Set.ID, prev, f),
				})
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			seenSets[s.Set.ID] = f
			result.File.Sets = append(result.File.Sets, s)
		}
	}

	if len(result.File.Rules) == 0 && len(result.File.Sets) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no rules or sets found"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths,
// sorted for deterministic compile order.
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
	sort.Strings(files)
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, file string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", file, err),
	}
}

// Package validator checks job submissions and resolves input paths against
// the worker's input root.
package validator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

const (
	maxPathLength = 4096
	maxTopK       = 10_000_000
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateSubmitRequest checks field shapes. It does not touch the
// filesystem; whether the input exists is the worker's concern.
func ValidateSubmitRequest(req *jobs.SubmitRequest) error {
	errs := make(map[string]string)

	switch p := strings.TrimSpace(req.InputPath); {
	case p == "":
		errs["input_path"] = "input_path is required"
	case len(p) > maxPathLength:
		errs["input_path"] = fmt.Sprintf("input_path must be at most %d characters", maxPathLength)
	case strings.ContainsRune(p, 0):
		errs["input_path"] = "input_path must not contain NUL"
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		errs["top_k"] = fmt.Sprintf("top_k must be between 1 and %d", maxTopK)
	}
	if req.Delimiter != "" && utf8.RuneCountInString(req.Delimiter) != 1 {
		errs["delimiter"] = "delimiter must be a single character"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ResolveInputPath maps a submitted path onto the filesystem. With an empty
// root the path is used as given. Otherwise it is taken relative to root
// and must not escape it.
func ResolveInputPath(root, p string) (string, error) {
	if root == "" {
		return filepath.Clean(p), nil
	}
	rel := filepath.Clean(string(filepath.Separator) + p)
	resolved := filepath.Join(root, rel)
	if resolved != filepath.Clean(root) && !strings.HasPrefix(resolved, filepath.Clean(root)+string(filepath.Separator)) {
		return "", &ValidationError{Fields: map[string]string{"input_path": "input_path escapes the input root"}}
	}
	return resolved, nil
}

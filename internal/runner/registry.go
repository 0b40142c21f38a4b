package runner

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
)

// Registry maps language identifiers to runners. Lookup is case sensitive.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates a registry holding runners.
func NewRegistry(runners ...Runner) (*Registry, error) {
	r := &Registry{runners: make(map[string]Runner)}
	for _, rn := range runners {
		if err := r.Register(rn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a runner under its language.
func (r *Registry) Register(rn Runner) error {
	lang := rn.Language()
	if lang == "" {
		return ErrLanguageEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[lang]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, lang)
	}
	r.runners[lang] = rn

	logging.RunnerDebug("Registered runner: %s", lang)
	return nil
}

// MustRegister registers a runner and panics on error.
func (r *Registry) MustRegister(rn Runner) {
	if err := r.Register(rn); err != nil {
		panic(fmt.Sprintf("failed to register runner %s: %v", rn.Language(), err))
	}
}

// Get returns the runner for language.
func (r *Registry) Get(language string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return rn, nil
}

// Has reports whether a runner is registered for language.
func (r *Registry) Has(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[language]
	return ok
}

// Languages returns the registered languages, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runners))
	for lang := range r.runners {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered runners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Validate checks that every expected language has a runner. It is called
// at startup against the configured language set.
func (r *Registry) Validate(expected []string) error {
	var errs []error
	for _, lang := range expected {
		if !r.Has(lang) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang))
		}
	}
	return errors.Join(errs...)
}

// TerminateAll terminates every runner, returning the joined failures.
func (r *Registry) TerminateAll() error {
	r.mu.RLock()
	runners := make([]Runner, 0, len(r.runners))
	for _, rn := range r.runners {
		runners = append(runners, rn)
	}
	r.mu.RUnlock()

	var errs []error
	for _, rn := range runners {
		if err := rn.Terminate(); err != nil {
			logging.RunnerWarn("terminate %s: %v", rn.Language(), err)
			errs = append(errs, fmt.Errorf("terminate %s: %w", rn.Language(), err))
		}
	}
	return errors.Join(errs...)
}

// Package process runs code blocks in host interpreters (bash, python3,
// node) and streams their output line by line.
//
// The runner performs no sandboxing: code runs as the current user with a
// filtered environment, in the process working directory (the dispatcher
// switches it to the workspace).
package process

import (
	"fmt"
	"time"
)

// Spec describes how one language is launched.
type Spec struct {
	// Language is the identifier the runner registers under ("shell").
	Language string `yaml:"language" json:"language"`

	// Binary is the interpreter executable ("bash", "python3").
	Binary string `yaml:"binary" json:"binary"`

	// Args precede the code, which is passed as the final argument.
	Args []string `yaml:"args" json:"args"`

	// TraceLines enables bash xtrace so executed lines surface as
	// active_line chunks. Only meaningful for bash-compatible shells.
	TraceLines bool `yaml:"trace_lines" json:"trace_lines"`

	// Env adds KEY=VALUE pairs to the filtered environment.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Validate checks that Language and Binary are set.
func (s Spec) Validate() error {
	if s.Language == "" {
		return fmt.Errorf("process spec: language is required")
	}
	if s.Binary == "" {
		return fmt.Errorf("process spec %s: binary is required", s.Language)
	}
	return nil
}

// Config holds limits shared by every process runner.
type Config struct {
	// Timeout bounds one Run. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout+stderr per Run. Zero means
	// DefaultMaxOutputBytes.
	MaxOutputBytes int64

	// AllowedEnvironment lists host variables passed through.
	AllowedEnvironment []string
}

// Defaults.
const (
	DefaultTimeout        = 2 * time.Minute
	DefaultMaxOutputBytes = 10 * 1024 * 1024
)

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		Timeout:            DefaultTimeout,
		MaxOutputBytes:     DefaultMaxOutputBytes,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TERM"},
	}
}

// DefaultSpecs returns the built-in languages.
func DefaultSpecs() []Spec {
	return []Spec{
		{Language: "shell", Binary: "bash", Args: []string{"-c"}, TraceLines: true},
		{Language: "python", Binary: "python3", Args: []string{"-u", "-c"}, Env: []string{"PYTHONIOENCODING=utf-8"}},
		{Language: "javascript", Binary: "node", Args: []string{"-e"}},
	}
}

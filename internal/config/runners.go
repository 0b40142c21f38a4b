package config

import "fmt"

// LanguageSpec describes a process-backed language.
type LanguageSpec struct {
	Language   string   `yaml:"language"`
	Binary     string   `yaml:"binary"`
	Args       []string `yaml:"args"`
	TraceLines bool     `yaml:"trace_lines"`
	Env        []string `yaml:"env,omitempty"`
}

// RunnersConfig configures the language runners.
type RunnersConfig struct {
	// Languages is the set the registry must serve at startup.
	Languages []string `yaml:"languages"`

	// Process lists the subprocess-backed languages.
	Process []LanguageSpec `yaml:"process"`

	// Go enables the embedded Go interpreter.
	Go GoRunnerConfig `yaml:"go"`

	Timeout        string   `yaml:"timeout"`
	MaxOutputBytes int64    `yaml:"max_output_bytes"`
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}

// GoRunnerConfig configures the embedded Go interpreter.
type GoRunnerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	AllowedPackages []string `yaml:"allowed_packages"`
}

// DefaultRunnersConfig returns the built-in languages.
func DefaultRunnersConfig() RunnersConfig {
	return RunnersConfig{
		Languages: []string{"shell", "python", "javascript", "html", "go"},
		Process: []LanguageSpec{
			{Language: "shell", Binary: "bash", Args: []string{"-c"}, TraceLines: true},
			{Language: "python", Binary: "python3", Args: []string{"-u", "-c"}, Env: []string{"PYTHONIOENCODING=utf-8"}},
			{Language: "javascript", Binary: "node", Args: []string{"-e"}},
		},
		Go:             GoRunnerConfig{Enabled: true},
		Timeout:        "120s",
		MaxOutputBytes: 10 * 1024 * 1024,
		AllowedEnvVars: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TERM"},
	}
}

// Validate checks the runner section for duplicates and empty entries.
func (r RunnersConfig) Validate() error {
	if len(r.Languages) == 0 {
		return fmt.Errorf("runners.languages is empty")
	}
	seen := make(map[string]bool)
	for _, spec := range r.Process {
		if spec.Language == "" || spec.Binary == "" {
			return fmt.Errorf("runners.process entry needs language and binary: %+v", spec)
		}
		if seen[spec.Language] {
			return fmt.Errorf("runners.process: duplicate language %q", spec.Language)
		}
		seen[spec.Language] = true
	}
	return nil
}

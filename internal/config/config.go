// Package config loads the interpreter configuration from
// <workspace>/.interp/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StateDir is the per-workspace directory holding config, logs, history
// and the usage database.
const StateDir = ".interp"

// Config holds all interpreter configuration.
type Config struct {
	// Workspace is the directory code runs in.
	Workspace string `yaml:"workspace"`

	LLM         LLMConfig         `yaml:"llm"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Runners     RunnersConfig     `yaml:"runners"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// InterpreterConfig configures turn behavior.
type InterpreterConfig struct {
	AutoRun       bool     `yaml:"auto_run"`
	Loop          bool     `yaml:"loop"`
	LoopMessage   string   `yaml:"loop_message"`
	LoopBreakers  []string `yaml:"loop_breakers"`
	MaxOutput     int      `yaml:"max_output"`
	MaxIterations int      `yaml:"max_iterations"`
	ScrollbarHint bool     `yaml:"scrollbar_hint"`

	Offline          bool `yaml:"offline"`
	DisableTelemetry bool `yaml:"disable_telemetry"`

	ConversationHistory bool   `yaml:"conversation_history"`
	HistoryDir          string `yaml:"history_dir"`

	SystemMessage           string `yaml:"system_message"`
	CustomInstructions      string `yaml:"custom_instructions"`
	UserMessageTemplate     string `yaml:"user_message_template"`
	CodeOutputTemplate      string `yaml:"code_output_template"`
	EmptyCodeOutputTemplate string `yaml:"empty_code_output_template"`
	CodeOutputSender        string `yaml:"code_output_sender"` // user, assistant
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// Interpreter defaults.
const (
	DefaultLoopMessage = "Proceed. You CAN run code on my machine. If the entire task I asked for is done, say exactly 'The task is done.' If you need some specific information (like username or password) say EXACTLY 'Please provide more information.' If it's impossible, say 'The task is impossible.' (If I haven't provided a task, say exactly 'Let me know what you'd like to do next.') Otherwise keep going."

	DefaultCodeOutputTemplate      = "Code output: {content}\n\nWhat does this output mean / what's next (if anything, or are we done)?"
	DefaultEmptyCodeOutputTemplate = "The code above was executed on my machine. It produced no text output. what's next (if anything, or are we done)?"

	DefaultSystemMessage = `You are Open Interpreter, a world-class programmer that can complete any goal by executing code.
First, write a plan. Always recap the plan between each code block.
When you execute code, it will be executed on the user's machine. The user has given you full and complete permission to execute any code necessary to complete the task.
You can access the internet. Run any code to achieve the goal, and if at first you don't succeed, try again and again.
Write code in fenced markdown blocks tagged with the language, for example ` + "```python" + `.
Write messages to the user in Markdown. In general, try to make plans with as few steps as possible.
You are capable of any task.`
)

// DefaultLoopBreakers are the assistant replies that end loop mode.
var DefaultLoopBreakers = []string{
	"The task is done.",
	"The task is impossible.",
	"Let me know what you'd like to do next.",
	"Please provide more information.",
}

// ValidProviders lists all supported model providers.
var ValidProviders = []string{"gemini", "openai"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Timeout:     "120s",
			Temperature: 0,
		},
		Interpreter: InterpreterConfig{
			LoopMessage:             DefaultLoopMessage,
			LoopBreakers:            append([]string(nil), DefaultLoopBreakers...),
			MaxOutput:               2800,
			MaxIterations:           20,
			ConversationHistory:     true,
			SystemMessage:           DefaultSystemMessage,
			UserMessageTemplate:     "{content}",
			CodeOutputTemplate:      DefaultCodeOutputTemplate,
			EmptyCodeOutputTemplate: DefaultEmptyCodeOutputTemplate,
			CodeOutputSender:        "user",
		},
		Runners: DefaultRunnersConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8585",
			ReadTimeout:  "30s",
			WriteTimeout: "0s",
		},
	}
}

// DefaultPath returns the config path for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, StateDir, "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Later keys win:
// a Gemini key beats an OpenAI key when both are set.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" && c.LLM.Provider == "openai" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("INTERP_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if ws := os.Getenv("INTERP_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if strings.EqualFold(os.Getenv("DISABLE_TELEMETRY"), "true") {
		c.Interpreter.DisableTelemetry = true
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Interpreter.Offline {
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, GOOGLE_API_KEY or OPENAI_API_KEY, or enable interpreter.offline)")
		}
		if !isValidProvider(c.LLM.Provider) {
			return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
		}
	}
	if c.Interpreter.MaxOutput <= 0 {
		return fmt.Errorf("interpreter.max_output must be positive, got %d", c.Interpreter.MaxOutput)
	}
	if c.Interpreter.MaxIterations <= 0 {
		return fmt.Errorf("interpreter.max_iterations must be positive, got %d", c.Interpreter.MaxIterations)
	}
	if c.Interpreter.Loop && c.Interpreter.LoopMessage == "" {
		return fmt.Errorf("interpreter.loop requires a loop_message")
	}
	switch c.Interpreter.CodeOutputSender {
	case "user", "assistant":
	default:
		return fmt.Errorf("invalid code_output_sender: %q (valid: user, assistant)", c.Interpreter.CodeOutputSender)
	}
	return c.Runners.Validate()
}

func isValidProvider(p string) bool {
	for _, v := range ValidProviders {
		if p == v {
			return true
		}
	}
	return false
}

// AnonymousTelemetry reports whether fatal turn failures are forwarded to
// the usage recorder.
func (c *Config) AnonymousTelemetry() bool {
	return !c.Interpreter.DisableTelemetry && !c.Interpreter.Offline
}

// StatePath joins elem onto the workspace state directory.
func (c *Config) StatePath(elem ...string) string {
	return filepath.Join(append([]string{c.Workspace, StateDir}, elem...)...)
}

// GetHistoryDir returns the conversation history directory.
func (c *Config) GetHistoryDir() string {
	if c.Interpreter.HistoryDir != "" {
		return c.Interpreter.HistoryDir
	}
	return c.StatePath("conversations")
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetRunTimeout returns the per-run timeout of process runners.
func (c *Config) GetRunTimeout() time.Duration {
	return parseDuration(c.Runners.Timeout, 2*time.Minute)
}

// GetServerTimeouts returns the read and write timeouts of the HTTP server.
func (c *Config) GetServerTimeouts() (read, write time.Duration) {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second), parseDuration(c.Server.WriteTimeout, 0)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

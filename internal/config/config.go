// Package config provides configuration management with CLI > env > file precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Default values used when neither a file, the environment nor a flag sets them.
const (
	DefaultCloudModel = "deepseek-chat"
	DefaultLocalModel = "deepseek-coder:6.7b"
	DefaultAPIURL     = "https://api.deepseek.com/chat/completions"
	DefaultOllamaHost = "http://localhost:11434"
	DefaultTokenizer  = "deepseek_v3_tokenizer/token_counter.py"

	// FileName is the YAML config file looked up in $HOME and then the working directory.
	FileName = ".deepseekrc"
)

// ErrMissingAPIKey is returned by Validate when cloud mode has no key.
var ErrMissingAPIKey = errors.New("API key required. Set DEEPSEEK_API_KEY or use --api-key flag.\nGet your key at: https://platform.deepseek.com/api_keys")

// Config holds all configuration options for deepseek.
type Config struct {
	APIKey        string  `yaml:"api-key"`
	Model         string  `yaml:"model"`
	APIURL        string  `yaml:"api-url"`
	MaxTokens     int     `yaml:"max-tokens"`
	Temperature   float64 `yaml:"temperature"`
	Stream        bool    `yaml:"stream"`
	ShowReasoning bool    `yaml:"show-reasoning"`
	UseLocal      bool    `yaml:"use-local"`
	OllamaHost    string  `yaml:"ollama-host"`

	PricingPeriod     string `yaml:"pricing-period"`
	TokenizerScript   string `yaml:"tokenizer-script"`
	PythonBin         string `yaml:"python"`
	RequestsPerMinute int    `yaml:"requests-per-minute"`
	Verbose           bool   `yaml:"verbose"`
	NoColor           bool   `yaml:"no-color"`

	// Args holds the positional arguments left after flag parsing.
	Args []string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
// Model is left empty so the backend can pick its own default.
func DefaultConfig() *Config {
	return &Config{
		APIURL:        DefaultAPIURL,
		MaxTokens:     4096,
		Temperature:   0.1,
		OllamaHost:    DefaultOllamaHost,
		PricingPeriod: "auto",
		PythonBin:     "python3",
	}
}

// Load builds a Config by merging CLI flags, environment variables, and config files.
// Precedence: CLI args > env vars > config files ($HOME then cwd) > defaults.
// Global flags are registered on fs, so callers may add their own flags first;
// a nil fs gets a fresh flag set.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		if err := cfg.loadYAML(filepath.Join(home, FileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := cfg.loadYAML(FileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if fs == nil {
		fs = flag.NewFlagSet("deepseek", flag.ContinueOnError)
	}
	cfg.Bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()

	cfg.finalize()
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("DEEPSEEK_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("DEEPSEEK_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
	if v := os.Getenv("DEEPSEEK_PRICING_PERIOD"); v != "" {
		c.PricingPeriod = v
	}
	if v := os.Getenv("DEEPSEEK_TOKENIZER"); v != "" {
		c.TokenizerScript = v
	}

	var err error
	if v := os.Getenv("DEEPSEEK_MAX_TOKENS"); v != "" {
		if c.MaxTokens, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse DEEPSEEK_MAX_TOKENS: %w", err)
		}
	}
	if v := os.Getenv("DEEPSEEK_TEMPERATURE"); v != "" {
		if c.Temperature, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parse DEEPSEEK_TEMPERATURE: %w", err)
		}
	}
	for name, dst := range map[string]*bool{
		"DEEPSEEK_STREAM":         &c.Stream,
		"DEEPSEEK_SHOW_REASONING": &c.ShowReasoning,
		"DEEPSEEK_USE_LOCAL":      &c.UseLocal,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if *dst, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

// Bind registers the global flags on fs, using the current values as defaults.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.StringVarP(&c.APIKey, "api-key", "k", c.APIKey, "DeepSeek API key")
	fs.StringVarP(&c.Model, "model", "m", c.Model, "Model to use (deepseek-chat, deepseek-reasoner)")
	fs.Float64VarP(&c.Temperature, "temperature", "t", c.Temperature, "Temperature for creativity (0.0-1.0)")
	fs.IntVar(&c.MaxTokens, "max-tokens", c.MaxTokens, "Maximum tokens in response")
	fs.BoolVarP(&c.Stream, "stream", "s", c.Stream, "Enable streaming responses")
	fs.BoolVarP(&c.ShowReasoning, "show-reasoning", "r", c.ShowReasoning, "Show reasoning (for deepseek-reasoner)")
	fs.BoolVarP(&c.UseLocal, "local", "l", c.UseLocal, "Use a local Ollama server")
	fs.StringVar(&c.OllamaHost, "ollama-host", c.OllamaHost, "Ollama server URL")
	fs.StringVar(&c.APIURL, "api-url", c.APIURL, "DeepSeek chat completions URL")
	fs.StringVar(&c.PricingPeriod, "time", c.PricingPeriod, "Pricing period (standard, discount, auto)")
	fs.StringVar(&c.TokenizerScript, "tokenizer", c.TokenizerScript, "Path to token_counter.py")
	fs.StringVar(&c.PythonBin, "python", c.PythonBin, "Python interpreter for the tokenizer")
	fs.IntVar(&c.RequestsPerMinute, "rpm", c.RequestsPerMinute, "Client-side request limit per minute (0 disables)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Enable debug logging")
	fs.BoolVar(&c.NoColor, "no-color", c.NoColor, "Disable colored output")
}

func (c *Config) finalize() {
	if c.Model == "" {
		c.Model = DefaultCloudModel
		if c.UseLocal {
			c.Model = DefaultLocalModel
		}
	}
	c.OllamaHost = strings.TrimRight(c.OllamaHost, "/")
	c.PricingPeriod = strings.ToLower(strings.TrimSpace(c.PricingPeriod))
	if c.TokenizerScript == "" {
		c.TokenizerScript = findTokenizer()
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.NoColor = true
	}
}

// findTokenizer looks for the counter script in the working directory and
// next to the executable.
func findTokenizer() string {
	candidates := []string{DefaultTokenizer}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, DefaultTokenizer),
			filepath.Join(dir, "..", DefaultTokenizer))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return DefaultTokenizer
}

// Validate checks value ranges. requireKey enforces an API key in cloud mode.
func (c *Config) Validate(requireKey bool) error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("invalid temperature %.2f: must be between 0.0 and 1.0", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("invalid max tokens %d: must be positive", c.MaxTokens)
	}
	switch c.PricingPeriod {
	case "", "auto", "standard", "discount":
	default:
		return fmt.Errorf("invalid pricing period %q: use standard, discount or auto", c.PricingPeriod)
	}
	if requireKey && !c.UseLocal && c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// LogLevel returns the slog level implied by Verbose.
func (c *Config) LogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// Backend names the selected backend for display.
func (c *Config) Backend() string {
	if c.UseLocal {
		return "ollama (" + c.OllamaHost + ")"
	}
	return "deepseek cloud"
}

// Package cli wires configuration, clients and the chat session into the
// deepseek command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/holasoymalva/deepseek-cli/internal/chat"
	"github.com/holasoymalva/deepseek-cli/internal/config"
	"github.com/holasoymalva/deepseek-cli/internal/instructions"
	"github.com/holasoymalva/deepseek-cli/internal/llm"
	"github.com/holasoymalva/deepseek-cli/internal/models"
	"github.com/holasoymalva/deepseek-cli/internal/render"
	"github.com/holasoymalva/deepseek-cli/internal/tokens"
)

// Version is the deepseek CLI version.
const Version = "0.1.0"

type command struct {
	name     string
	aliases  []string
	usage    string
	needsKey bool
	run      func(a *App, ctx context.Context, args []string) error
}

var commandList = []command{
	{name: "chat", aliases: []string{"ask"}, usage: "<prompt>", needsKey: true, run: (*App).runChat},
	{name: "reason", aliases: []string{"solve"}, usage: "<prompt>", needsKey: true, run: (*App).runReason},
	{name: "analyze", aliases: []string{"review"}, usage: "<file>", needsKey: true, run: (*App).runAnalyze},
	{name: "explain", usage: "<topic>", needsKey: true, run: (*App).runExplain},
	{name: "fix", usage: "<file>", needsKey: true, run: (*App).runFix},
	{name: "improve", usage: "<file>", needsKey: true, run: (*App).runImprove},
	{name: "tokens", aliases: []string{"count"}, usage: "<input>", run: (*App).runTokens},
	{name: "cost", usage: "<text>", run: (*App).runCost},
	{name: "models", aliases: []string{"list"}, needsKey: true, run: (*App).runModels},
	{name: "setup", run: (*App).runSetup},
}

func lookup(name string) (command, bool) {
	for _, c := range commandList {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return command{}, false
}

// App holds everything a command needs. Fields left nil get production
// defaults in Run; tests replace them.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// NewInput opens the interactive line reader.
	NewInput func(a *App) (chat.InputReader, func(), error)
	// LookPath, Start and Exec run external programs for setup.
	LookPath func(file string) (string, error)
	Start    func(name string, args ...string) error
	Exec     func(ctx context.Context, name string, args ...string) error

	cfg      *config.Config
	logger   *slog.Logger
	renderer *render.Renderer
	est      *tokens.Estimator

	fileInput bool
	jsonOut   bool
}

// Run parses args and executes the selected command. With no command the
// interactive session starts.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &App{Stdout: stdout, Stderr: stderr}
	return a.Run(ctx, args)
}

// Run parses args and executes the selected command.
func (a *App) Run(ctx context.Context, args []string) error {
	a.defaults()

	fs := flag.NewFlagSet("deepseek", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	fs.BoolVarP(&a.fileInput, "file", "f", false, "Treat input as a file path (tokens, cost)")
	fs.BoolVarP(&a.jsonOut, "json", "j", false, "Output in JSON format (tokens)")
	showVersion := fs.BoolP("version", "V", false, "Show version number")
	fs.Usage = func() { fmt.Fprint(a.Stdout, helpText(fs)) }

	cfg, err := config.Load(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	if *showVersion {
		fmt.Fprintln(a.Stdout, Version)
		return nil
	}

	a.logger = slog.New(slog.NewTextHandler(a.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(a.logger)

	a.renderer, err = render.NewRenderer(a.Stdout, render.Options{NoColor: cfg.NoColor})
	if err != nil {
		return err
	}
	counter := tokens.ScriptCounter{Python: cfg.PythonBin, Script: cfg.TokenizerScript}
	a.est = tokens.NewEstimator(counter.Count, cfg.PricingPeriod, a.logger)

	if len(cfg.Args) == 0 {
		if err := cfg.Validate(true); err != nil {
			return err
		}
		return a.runInteractive(ctx)
	}

	name, rest := cfg.Args[0], cfg.Args[1:]
	if name == "help" {
		fmt.Fprint(a.Stdout, helpText(fs))
		return nil
	}
	cmd, ok := lookup(name)
	if !ok {
		return fmt.Errorf("unknown command %q. Run 'deepseek help' for usage", name)
	}
	if err := cfg.Validate(cmd.needsKey); err != nil {
		return err
	}
	a.logger.Debug("running command", "command", cmd.name, "backend", cfg.Backend(), "model", cfg.Model)
	return cmd.run(a, ctx, rest)
}

func (a *App) defaults() {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.NewInput == nil {
		a.NewInput = readlineInput
	}
	if a.LookPath == nil {
		a.LookPath = exec.LookPath
	}
	if a.Start == nil {
		a.Start = startDetached
	}
	if a.Exec == nil {
		a.Exec = a.execAttached
	}
}

// client builds the backend client selected by the configuration.
func (a *App) client() llm.Client {
	return llm.New(llm.Settings{
		UseLocal:          a.cfg.UseLocal,
		Model:             a.cfg.Model,
		APIKey:            a.cfg.APIKey,
		APIURL:            a.cfg.APIURL,
		OllamaHost:        a.cfg.OllamaHost,
		MaxTokens:         a.cfg.MaxTokens,
		Temperature:       a.cfg.Temperature,
		RequestsPerMinute: a.cfg.RequestsPerMinute,
	}, a.est, a.logger)
}

// modelManager returns the model lister for the selected backend.
func (a *App) modelManager() *models.Manager {
	if a.cfg.UseLocal {
		return models.NewLocalManager(a.cfg.OllamaHost)
	}
	return models.NewCloudManager(cloudModelsURL(a.cfg.APIURL), a.cfg.APIKey)
}

// cloudModelsURL derives the /models endpoint from the chat completions URL.
func cloudModelsURL(apiURL string) string {
	if base, ok := strings.CutSuffix(strings.TrimRight(apiURL, "/"), "/chat/completions"); ok {
		return base + "/models"
	}
	return models.DefaultCloudModelsURL
}

func (a *App) session() (*chat.Session, error) {
	instr, err := instructions.Discover()
	if err != nil {
		a.logger.Warn("load instructions", "error", err)
	}
	return chat.NewSession(a.cfg, chat.Deps{
		Client:       a.client(),
		Renderer:     a.renderer,
		Models:       a.modelManager(),
		Estimator:    a.est,
		Instructions: instr,
		Logger:       a.logger,
		TurnContext:  interruptContext,
	})
}

func helpText(fs *flag.FlagSet) string {
	var sb strings.Builder
	sb.WriteString("DeepSeek CLI - AI-powered coding assistant\n\n")
	sb.WriteString("Usage:\n  deepseek [options]                 Start interactive mode\n")
	for _, c := range commandList {
		names := strings.Join(append([]string{c.name}, c.aliases...), ", ")
		fmt.Fprintf(&sb, "  deepseek %s\n", strings.TrimSpace(names+" "+c.usage))
	}
	sb.WriteString("  deepseek help\n")
	sb.WriteString("\nOptions:\n")
	sb.WriteString(fs.FlagUsages())
	sb.WriteString("\nConfiguration:\n")
	sb.WriteString("  Environment: DEEPSEEK_API_KEY, DEEPSEEK_MODEL, DEEPSEEK_USE_LOCAL, OLLAMA_HOST, ...\n")
	sb.WriteString("  Config file: ~/" + config.FileName + " or ./" + config.FileName + " (YAML)\n")
	return sb.String()
}

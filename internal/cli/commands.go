package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/holasoymalva/deepseek-cli/internal/chat"
	"github.com/holasoymalva/deepseek-cli/internal/prompts"
	"github.com/holasoymalva/deepseek-cli/internal/tokens"
)

func joinArgs(args []string, what string) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", fmt.Errorf("missing %s", what)
	}
	return text, nil
}

// ask sends a single prompt through a fresh session.
func (a *App) ask(ctx context.Context, prompt string, reason bool) error {
	s, err := a.session()
	if err != nil {
		return err
	}
	ctx, stop := interruptContext(ctx)
	defer stop()
	if reason {
		_, err = s.Reason(ctx, prompt)
	} else {
		_, err = s.Ask(ctx, prompt)
	}
	return err
}

func (a *App) runChat(ctx context.Context, args []string) error {
	prompt, err := joinArgs(args, "prompt")
	if err != nil {
		return err
	}
	return a.ask(ctx, prompt, false)
}

func (a *App) runReason(ctx context.Context, args []string) error {
	prompt, err := joinArgs(args, "prompt")
	if err != nil {
		return err
	}
	return a.ask(ctx, prompt, true)
}

func (a *App) runExplain(ctx context.Context, args []string) error {
	topic, err := joinArgs(args, "topic")
	if err != nil {
		return err
	}
	return a.ask(ctx, prompts.Explain(topic), false)
}

// fileTask reads the file named by args and asks with the prompt built from it.
func (a *App) fileTask(ctx context.Context, args []string, build func(path, content string) string) error {
	path, err := joinArgs(args, "file")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("File not found: %s", path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return a.ask(ctx, build(path, string(data)), false)
}

func (a *App) runAnalyze(ctx context.Context, args []string) error {
	return a.fileTask(ctx, args, prompts.Analyze)
}

func (a *App) runFix(ctx context.Context, args []string) error {
	return a.fileTask(ctx, args, prompts.Fix)
}

func (a *App) runImprove(ctx context.Context, args []string) error {
	return a.fileTask(ctx, args, prompts.Improve)
}

func (a *App) tokenRequest(args []string) (tokens.Request, error) {
	input, err := joinArgs(args, "input")
	if err != nil {
		return tokens.Request{}, err
	}
	req := tokens.Request{Model: a.cfg.Model}
	if a.cfg.PricingPeriod != "" && a.cfg.PricingPeriod != tokens.PeriodAuto {
		req.Period = a.cfg.PricingPeriod
	}
	if a.fileInput {
		if _, err := os.Stat(input); err != nil {
			return tokens.Request{}, fmt.Errorf("File not found: %s", input)
		}
		req.File = input
	} else {
		req.Text = input
	}
	return req, nil
}

func (a *App) runTokens(ctx context.Context, args []string) error {
	req, err := a.tokenRequest(args)
	if err != nil {
		return err
	}
	report := a.est.Report(ctx, req)
	if report.Approx {
		a.logger.Debug("token counter unavailable, reporting approximation", "script", a.cfg.TokenizerScript)
	}
	if a.jsonOut {
		enc := json.NewEncoder(a.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintln(a.Stdout, report.String())
	return nil
}

func (a *App) runCost(ctx context.Context, args []string) error {
	req, err := a.tokenRequest(args)
	if err != nil {
		return err
	}
	report := a.est.Report(ctx, req)
	count := fmt.Sprintf("%d", report.TokenCount)
	if report.Approx {
		count = "~" + count
	}
	fmt.Fprintf(a.Stdout, "Input: %s tokens (%s, %s pricing)\n", count, report.Model, report.TimePeriod)
	fmt.Fprintf(a.Stdout, "Input cost:                    $%.6f\n", report.Costs.InputCacheMiss)
	fmt.Fprintf(a.Stdout, "Output cost (same length):     $%.6f\n", report.Costs.OutputSameLength)
	fmt.Fprintf(a.Stdout, "Estimated total:               $%.6f\n", report.Costs.TotalCacheMiss)
	return nil
}

func (a *App) runModels(ctx context.Context, _ []string) error {
	mgr := a.modelManager()
	names, err := mgr.List(ctx)
	if err != nil {
		if a.cfg.UseLocal {
			return fmt.Errorf("Cannot connect to Ollama at %s. Make sure Ollama is running: ollama serve", a.cfg.OllamaHost)
		}
		return err
	}
	a.renderer.Info("Models on %s:", a.cfg.Backend())
	fmt.Fprintln(a.Stdout, chat.FormatModels(names, a.cfg.Model))
	return nil
}

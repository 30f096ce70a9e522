package cli

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// serveWait bounds how long setup waits for a freshly started server.
var serveWait = 3 * time.Second

func (a *App) runSetup(ctx context.Context, _ []string) error {
	r := a.renderer
	r.Title("DeepSeek CLI Setup")

	if !a.cfg.UseLocal {
		r.Warn("Setup is only needed for local mode.")
		r.Info("For cloud mode, just set your DEEPSEEK_API_KEY.")
		return nil
	}

	r.Info("Checking Ollama installation...")
	if _, err := a.LookPath("ollama"); err != nil {
		r.Warn("Ollama not found. Please install Ollama first:")
		r.Info("  macOS: brew install ollama")
		r.Info("  Linux: curl -fsSL https://ollama.ai/install.sh | sh")
		r.Info("  Windows: Download from https://ollama.ai")
		return fmt.Errorf("ollama is not installed")
	}
	r.Success("Ollama is installed")

	mgr := a.modelManager()
	r.Info("Checking Ollama connection...")
	if !mgr.Connected(ctx) {
		r.Warn("Ollama is not running. Starting Ollama service...")
		if err := a.Start("ollama", "serve"); err != nil {
			return fmt.Errorf("start ollama: %w. Please start it manually: ollama serve", err)
		}
		if !waitConnected(ctx, mgr.Connected, serveWait) {
			return fmt.Errorf("Ollama did not come up at %s. Please start it manually: ollama serve", a.cfg.OllamaHost)
		}
	}
	r.Success("Connected to Ollama at %s", a.cfg.OllamaHost)

	r.Info("Checking available models...")
	has, err := mgr.Has(ctx, a.cfg.Model)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if has {
		r.Success("Model '%s' is already installed", a.cfg.Model)
	} else {
		r.Warn("Model '%s' not found. Downloading (this may take a while)...", a.cfg.Model)
		if err := a.Exec(ctx, "ollama", "pull", a.cfg.Model); err != nil {
			return fmt.Errorf("install %s: %w. Try manually: ollama pull %s", a.cfg.Model, err, a.cfg.Model)
		}
		mgr.Invalidate()
		if has, err = mgr.Has(ctx, a.cfg.Model); err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		if !has {
			return fmt.Errorf("model %s is still not listed by Ollama after the pull. Try manually: ollama pull %s", a.cfg.Model, a.cfg.Model)
		}
		r.Success("Model %s installed successfully", a.cfg.Model)
	}

	r.Success("Setup complete! You can now use DeepSeek CLI locally.")
	r.Info("Start with: deepseek --local")
	return nil
}

// waitConnected polls probe until it succeeds or wait elapses.
func waitConnected(ctx context.Context, probe func(context.Context) bool, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if probe(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// startDetached launches a long-running program without waiting for it.
func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// execAttached runs a program with its output on the app's writers.
func (a *App) execAttached(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = a.Stdout
	cmd.Stderr = a.Stderr
	return cmd.Run()
}

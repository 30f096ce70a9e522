package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chzyer/readline"

	"github.com/holasoymalva/deepseek-cli/internal/chat"
)

// interruptContext cancels on Ctrl-C until stop is called.
func interruptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

func (a *App) runInteractive(ctx context.Context) error {
	r := a.renderer
	r.Title("DeepSeek CLI")
	r.Info("Model: %s | Backend: %s", a.cfg.Model, a.cfg.Backend())
	r.Info("Type \"exit\" or Ctrl+C to quit, /help for commands.")

	if a.cfg.UseLocal {
		a.preflight(ctx)
	}

	s, err := a.session()
	if err != nil {
		return err
	}
	input, closeInput, err := a.NewInput(a)
	if err != nil {
		return err
	}
	defer closeInput()

	err = s.Run(ctx, input)
	r.Warn("Goodbye!")
	return err
}

// preflight reports whether the local server is up and has the model.
// Problems are warnings; the session still starts.
func (a *App) preflight(ctx context.Context) {
	r := a.renderer
	mgr := a.modelManager()
	if !mgr.Connected(ctx) {
		r.Warn("Cannot connect to Ollama at %s", a.cfg.OllamaHost)
		r.Info("Make sure Ollama is running: ollama serve")
		r.Info("Install the model: ollama pull %s", a.cfg.Model)
		return
	}
	r.Success("Connected to Ollama")
	if !mgr.Includes(mgr.Installed(ctx), a.cfg.Model) {
		r.Warn("Model '%s' not found locally", a.cfg.Model)
		r.Info("Install it with: ollama pull %s", a.cfg.Model)
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".deepseek")
	_ = os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, "history")
}

// readlineInput reads lines with history. Ctrl-C at the prompt ends the session.
func readlineInput(a *App) (chat.InputReader, func(), error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          a.renderer.Prompt(chat.PromptLabel),
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          a.Stdout,
		Stderr:          a.Stderr,
	})
	if err != nil {
		return nil, nil, err
	}
	read := func(_ string) (string, error) {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return line, err
	}
	return read, func() { _ = rl.Close() }, nil
}

// Package chat manages the conversation with the model: turn history, the
// interactive loop and per-session usage totals.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/holasoymalva/deepseek-cli/internal/commands"
	"github.com/holasoymalva/deepseek-cli/internal/config"
	"github.com/holasoymalva/deepseek-cli/internal/instructions"
	"github.com/holasoymalva/deepseek-cli/internal/llm"
	"github.com/holasoymalva/deepseek-cli/internal/models"
	"github.com/holasoymalva/deepseek-cli/internal/prompts"
	"github.com/holasoymalva/deepseek-cli/internal/render"
	"github.com/holasoymalva/deepseek-cli/internal/tokens"
	"github.com/holasoymalva/deepseek-cli/internal/usage"
)

// InputReader reads a line of user input. Returns the line and any error (io.EOF on end).
type InputReader func(prompt string) (string, error)

// PromptLabel is shown before each interactive input line.
const PromptLabel = "deepseek-cli > "

// Deps are the collaborators of a Session. Client and Renderer are required.
type Deps struct {
	Client       llm.Client
	Renderer     *render.Renderer
	Tracker      *usage.Tracker
	Models       *models.Manager
	Estimator    *tokens.Estimator
	Instructions *instructions.Set
	Logger       *slog.Logger

	// TurnContext derives the context for one request, e.g. to make Ctrl-C
	// cancel only the request in flight. Defaults to the loop context.
	TurnContext func(ctx context.Context) (context.Context, context.CancelFunc)
}

// Session owns one conversation and sends its turns, one at a time.
type Session struct {
	cfg      *config.Config
	conv     *Conversation
	client   llm.Client
	renderer *render.Renderer
	tracker  *usage.Tracker
	modelMgr *models.Manager
	est      *tokens.Estimator
	instr    *instructions.Set
	logger   *slog.Logger
	turnCtx  func(context.Context) (context.Context, context.CancelFunc)
	cmdReg   *commands.Registry

	// model is the model chosen with /model; the config stays as loaded.
	model string

	// loopCtx is the context of the running loop, used by slash commands.
	loopCtx context.Context
}

// NewSession creates a session whose conversation starts with the preamble
// plus any loaded project instructions.
func NewSession(cfg *config.Config, d Deps) (*Session, error) {
	if d.Client == nil {
		return nil, errors.New("create session: no client")
	}
	if d.Renderer == nil {
		return nil, errors.New("create session: no renderer")
	}
	if d.Tracker == nil {
		d.Tracker = usage.NewTracker()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.TurnContext == nil {
		d.TurnContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithCancel(ctx)
		}
	}
	var instr string
	if !d.Instructions.Empty() {
		instr = d.Instructions.Text
	}

	s := &Session{
		cfg:      cfg,
		conv:     NewConversation(prompts.SystemPrompt(instr)),
		client:   d.Client,
		renderer: d.Renderer,
		tracker:  d.Tracker,
		modelMgr: d.Models,
		est:      d.Estimator,
		instr:    d.Instructions,
		logger:   d.Logger,
		turnCtx:  d.TurnContext,
		loopCtx:  context.Background(),
		model:    cfg.Model,
	}

	reg := commands.NewRegistry()
	cb := commands.Callbacks{
		OnClear:        s.clearHistory,
		OnModel:        s.switchModel,
		OnConfig:       s.showConfig,
		OnUsage:        func() string { return s.tracker.Totals().String() },
		OnReason:       s.reasonCommand,
		OnInstructions: s.instr.String,
	}
	if s.est != nil {
		cb.OnTokens = s.countTokens
	}
	commands.RegisterDefaults(reg, cb)
	s.cmdReg = reg

	return s, nil
}

// Messages returns a copy of the current message history.
func (s *Session) Messages() []llm.Message { return s.conv.Snapshot() }

// Totals returns the accumulated usage of this session.
func (s *Session) Totals() usage.Totals { return s.tracker.Totals() }

// Run is the interactive loop. It ends on exit/quit, /quit or EOF.
// Failed turns are reported and the loop continues.
func (s *Session) Run(ctx context.Context, readInput InputReader) error {
	s.loopCtx = ctx
	defer func() { s.loopCtx = context.Background() }()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		input, err := readInput(PromptLabel)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if commands.IsExit(input) {
			return nil
		}

		if output, isCmd := s.cmdReg.Execute(input); isCmd {
			if output == commands.Quit {
				return nil
			}
			if output != "" {
				fmt.Fprintln(s.renderer.Writer(), output)
			}
			continue
		}

		s.turn(ctx, input, false)
	}
}

// turn runs one request under its own context and reports any failure.
func (s *Session) turn(ctx context.Context, prompt string, reason bool) {
	tctx, cancel := s.turnCtx(ctx)
	defer cancel()

	var err error
	if reason {
		_, err = s.Reason(tctx, prompt)
	} else {
		_, err = s.Ask(tctx, prompt)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.renderer.Warn("Request cancelled.")
	default:
		s.renderer.Error(err)
	}
}

// Ask sends the conversation plus prompt and displays the reply. The user
// and assistant turns are appended only when the request succeeds.
func (s *Session) Ask(ctx context.Context, prompt string) (*llm.Result, error) {
	return s.send(ctx, prompt, false)
}

// Reason is Ask routed to the reasoning model. Clients without a reasoning
// model answer with their configured model.
func (s *Session) Reason(ctx context.Context, prompt string) (*llm.Result, error) {
	return s.send(ctx, prompt, true)
}

func (s *Session) send(ctx context.Context, prompt string, reason bool) (*llm.Result, error) {
	msgs := append(s.conv.Snapshot(), llm.Message{Role: llm.RoleUser, Content: prompt})

	reasoner, canReason := s.client.(llm.Reasoner)
	if reason && !canReason {
		s.logger.Debug("client has no reasoning model, using default", "client", s.client.Name())
		reason = false
	}

	var (
		res *llm.Result
		err error
	)
	if s.cfg.Stream {
		out := s.newStreamOutput(reason)
		switch {
		case reason:
			res, err = reasoner.ReasonStream(ctx, msgs, out.delta)
		default:
			res, err = s.client.CompleteStream(ctx, msgs, out.delta)
		}
		if cerr := out.close(); err == nil && cerr != nil {
			s.logger.Debug("render stream", "error", cerr)
		}
	} else {
		switch {
		case reason:
			res, err = reasoner.Reason(ctx, msgs)
		default:
			res, err = s.client.Complete(ctx, msgs)
		}
		if err == nil {
			s.display(res, reason)
		}
	}
	if err != nil {
		return nil, err
	}

	_ = s.conv.Append(llm.RoleUser, prompt)
	_ = s.conv.Append(llm.RoleAssistant, res.Content)

	model := res.Model
	if model == "" {
		model = s.currentModel()
	}
	s.tracker.Record(model, res.Usage)
	s.renderer.Usage(usage.Line(res.Usage))
	return res, nil
}

func (s *Session) display(res *llm.Result, reason bool) {
	if (s.cfg.ShowReasoning || reason) && res.ReasoningContent != "" {
		s.renderer.Reasoning(res.ReasoningContent)
	}
	if err := s.renderer.Render(res.Content); err != nil {
		s.logger.Debug("render markdown", "error", err)
		fmt.Fprintln(s.renderer.Writer(), res.Content)
	}
}

// streamOutput writes deltas as they arrive, reasoning first when shown.
type streamOutput struct {
	s             *Session
	stream        *render.Stream
	showReasoning bool
	inReasoning   bool
}

func (s *Session) newStreamOutput(reason bool) *streamOutput {
	return &streamOutput{s: s, stream: s.renderer.NewStream(), showReasoning: s.cfg.ShowReasoning || reason}
}

func (o *streamOutput) delta(d llm.Delta) {
	if d.Reasoning != "" && o.showReasoning {
		if !o.inReasoning {
			o.s.renderer.Title("Reasoning:")
			o.inReasoning = true
		}
		o.s.renderer.ReasoningDelta(d.Reasoning)
	}
	if d.Content == "" {
		return
	}
	if o.inReasoning {
		fmt.Fprintln(o.s.renderer.Writer())
		o.s.renderer.Title("Answer:")
		o.inReasoning = false
	}
	if err := o.stream.Write(d.Content); err != nil {
		o.s.logger.Debug("render stream", "error", err)
	}
}

func (o *streamOutput) close() error {
	if o.inReasoning {
		fmt.Fprintln(o.s.renderer.Writer())
	}
	return o.stream.Close()
}

// currentModel prefers the client's own view of the model.
func (s *Session) currentModel() string {
	if sw, ok := s.client.(llm.ModelSwitcher); ok && sw.Model() != "" {
		return sw.Model()
	}
	return s.model
}

func (s *Session) clearHistory() string {
	s.conv.Reset()
	return "Conversation cleared."
}

func (s *Session) switchModel(args string) string {
	sw, ok := s.client.(llm.ModelSwitcher)
	if args != "" {
		if !ok {
			return "Model switching is not supported by this backend."
		}
		if s.modelMgr != nil {
			if has, err := s.modelMgr.Has(s.loopCtx, args); err == nil && !has {
				s.renderer.Warn("Model '%s' is not in the available model list.", args)
			}
		}
		sw.SetModel(args)
		s.model = args
		return fmt.Sprintf("Switched to model: %s", args)
	}

	current := s.currentModel()
	if s.modelMgr == nil {
		return "Current model: " + current
	}
	names, err := s.modelMgr.List(s.loopCtx)
	if err != nil {
		return fmt.Sprintf("Current model: %s\nError listing models: %v", current, err)
	}
	return FormatModels(names, current)
}

// FormatModels lists names, marking the current one.
func FormatModels(names []string, current string) string {
	if len(names) == 0 {
		return "No models available."
	}
	var sb strings.Builder
	sb.WriteString("Available models:\n")
	for _, m := range names {
		marker := "  "
		if m == current {
			marker = "* "
		}
		fmt.Fprintf(&sb, "%s%s\n", marker, m)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *Session) showConfig() string {
	return fmt.Sprintf("Backend: %s\nModel: %s\nAPI URL: %s\nAPI key: %s\nMax Tokens: %d\nTemperature: %.2f\nStream: %v\nShow reasoning: %v\nPricing period: %s",
		s.cfg.Backend(), s.currentModel(), s.cfg.APIURL, maskKey(s.cfg.APIKey), s.cfg.MaxTokens,
		s.cfg.Temperature, s.cfg.Stream, s.cfg.ShowReasoning, s.cfg.PricingPeriod)
}

func (s *Session) reasonCommand(args string) string {
	if args == "" {
		return "Usage: /reason <prompt>"
	}
	s.turn(s.loopCtx, args, true)
	return ""
}

func (s *Session) countTokens(args string) string {
	if args == "" {
		return "Usage: /tokens <text>"
	}
	return s.est.Report(s.loopCtx, tokens.Request{Text: args, Model: s.currentModel()}).String()
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return "****"
	default:
		return key[:3] + "..." + key[len(key)-4:]
	}
}

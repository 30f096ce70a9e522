// Package commands provides slash command handling for the interactive session.
package commands

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Quit is returned by a handler to end the session.
const Quit = "__QUIT__"

// Handler handles a slash command. It receives the arguments after the
// command name and returns output text.
type Handler func(args string) string

// Registry holds all registered slash commands.
type Registry struct {
	commands map[string]entry
	aliases  map[string]string
}

type entry struct {
	handler     Handler
	description string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]entry),
		aliases:  make(map[string]string),
	}
}

// Register adds a command to the registry.
func (r *Registry) Register(name, description string, handler Handler) {
	r.commands[name] = entry{handler: handler, description: description}
}

// Alias makes alias run the command name.
func (r *Registry) Alias(alias, name string) {
	r.aliases[alias] = name
}

// Execute runs a slash command. Returns the command output and whether the
// input was a command at all.
func (r *Registry) Execute(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", false
	}

	name, args, _ := strings.Cut(input[1:], " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)
	if target, ok := r.aliases[name]; ok {
		name = target
	}

	e, ok := r.commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name), true
	}
	return e.handler(args), true
}

// IsExit reports whether a bare line asks to leave the session.
func IsExit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit":
		return true
	}
	return false
}

// Callbacks holds the session hooks behind the default commands.
// A nil hook makes its command report that it is unavailable.
type Callbacks struct {
	OnClear        func() string
	OnModel        func(args string) string
	OnConfig       func() string
	OnUsage        func() string
	OnReason       func(args string) string
	OnTokens       func(args string) string
	OnInstructions func() string
}

// RegisterDefaults registers the standard set of slash commands.
func RegisterDefaults(r *Registry, cb Callbacks) {
	r.Register("help", "Show available commands", func(_ string) string {
		return r.helpText()
	})
	r.Register("quit", "Exit the session", func(_ string) string { return Quit })
	r.Alias("exit", "quit")

	optional := func(name, desc string, fn func(string) string) {
		r.Register(name, desc, func(args string) string {
			if fn == nil {
				return fmt.Sprintf("/%s is not available in this session.", name)
			}
			return fn(args)
		})
	}
	noArgs := func(fn func() string) func(string) string {
		if fn == nil {
			return nil
		}
		return func(string) string { return fn() }
	}

	optional("clear", "Reset the conversation to the system preamble", noArgs(cb.OnClear))
	optional("model", "Show the model, list models, or switch: /model <name>", cb.OnModel)
	optional("config", "Show current configuration", noArgs(cb.OnConfig))
	optional("usage", "Show token usage and estimated cost for this session", noArgs(cb.OnUsage))
	optional("reason", "Ask the reasoning model: /reason <prompt>", cb.OnReason)
	optional("tokens", "Count tokens and estimate cost: /tokens <text>", cb.OnTokens)
	optional("instructions", "Show loaded DEEPSEEK.md instructions", noArgs(cb.OnInstructions))
}

func (r *Registry) helpText() string {
	byTarget := make(map[string][]string)
	for alias, name := range r.aliases {
		byTarget[name] = append(byTarget[name], "/"+alias)
	}

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		line := r.commands[name].description
		if aka := byTarget[name]; len(aka) > 0 {
			slices.Sort(aka)
			line += " (also " + strings.Join(aka, ", ") + ")"
		}
		fmt.Fprintf(&sb, "  /%-13s %s\n", name, line)
	}
	sb.WriteString("Type exit or quit to leave.")
	return sb.String()
}

// Package prompts provides the system preamble and task prompts for deepseek.
package prompts

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Preamble is the system message that opens every conversation.
const Preamble = `You are DeepSeek Coder, an AI programming assistant. Help with coding tasks, provide clear code examples, and follow best practices.`

// SystemPrompt returns the preamble followed by any project instructions.
func SystemPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return Preamble
	}
	return Preamble + "\n\n# Project instructions\n\n" + instructions
}

// Analyze asks for a code review of a file.
func Analyze(path, content string) string {
	name, lang := describe(path)
	return fmt.Sprintf(`Please analyze this %s code and provide feedback on:
1. Code quality and best practices
2. Potential bugs or issues
3. Performance considerations
4. Security concerns (if applicable)
5. Suggestions for improvement

File: %s

%s`, lang, name, fence(lang, content))
}

// Fix asks for a corrected version of a file.
func Fix(path, content string) string {
	name, lang := describe(path)
	return fmt.Sprintf(`Find and fix the bugs in this %s code. List each problem you found, then give the complete corrected file.

File: %s

%s`, lang, name, fence(lang, content))
}

// Improve asks for refactoring suggestions for a file.
func Improve(path, content string) string {
	name, lang := describe(path)
	return fmt.Sprintf(`Suggest improvements for this %s code: readability, structure, idiomatic usage and performance. Show the improved code.

File: %s

%s`, lang, name, fence(lang, content))
}

// Explain asks for an explanation of a topic.
func Explain(topic string) string {
	return fmt.Sprintf("Explain the following clearly, with short code examples where they help:\n\n%s", topic)
}

func describe(path string) (name, lang string) {
	name = filepath.Base(path)
	lang = strings.TrimPrefix(filepath.Ext(path), ".")
	return name, lang
}

func fence(lang, content string) string {
	return "```" + lang + "\n" + strings.TrimRight(content, "\n") + "\n```"
}

// Package instructions loads optional DEEPSEEK.md project instructions that
// are appended to the system preamble.
package instructions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the instructions file looked up in each location.
const FileName = "DEEPSEEK.md"

// maxSize bounds a single instructions file.
const maxSize = 64 << 10

// Set is the combined instructions and the files they came from.
type Set struct {
	Text    string
	Sources []string
}

// Paths returns the lookup locations, global first so project files win
// by coming last in the preamble.
func Paths(workDir, homeDir string) []string {
	var paths []string
	if homeDir != "" {
		paths = append(paths, filepath.Join(homeDir, ".deepseek", FileName))
	}
	if workDir != "" {
		paths = append(paths,
			filepath.Join(workDir, ".deepseek", FileName),
			filepath.Join(workDir, FileName))
	}
	return paths
}

// Load reads every existing instructions file. Missing files are skipped;
// any other read failure is returned.
func Load(paths ...string) (*Set, error) {
	s := &Set{}
	for _, p := range paths {
		if err := s.add(p); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Discover loads instructions from the working directory and home directory.
func Discover() (*Set, error) {
	wd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return Load(Paths(wd, home)...)
}

func (s *Set) add(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat instructions: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	if info.Size() > maxSize {
		return fmt.Errorf("instructions file %s is larger than %d KiB", path, maxSize>>10)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read instructions: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	if s.Text != "" {
		s.Text += "\n\n"
	}
	s.Text += text
	s.Sources = append(s.Sources, path)
	return nil
}

// Empty reports whether no instructions were loaded.
func (s *Set) Empty() bool {
	return s == nil || s.Text == ""
}

// String describes the loaded sources for display.
func (s *Set) String() string {
	if s.Empty() {
		return "No " + FileName + " instructions loaded."
	}
	return fmt.Sprintf("Instructions from %s:\n\n%s", strings.Join(s.Sources, ", "), s.Text)
}

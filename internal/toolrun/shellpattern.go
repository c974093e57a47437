// Package toolrun executes pending tool calls under the confirmation and
// allow-rule policy accumulated on a session.
package toolrun

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/syntax"
)

// ShellCommand represents one parsed command with its arguments.
type ShellCommand struct {
	Name       string   // command name (e.g. "rm", "git")
	Args       []string // command arguments
	Subcommand string   // first non-flag argument (e.g. "commit" in "git commit")
}

// Pattern returns the "name subcommand" form used for allow-rule matching,
// or just the name when there is no subcommand.
func (c ShellCommand) Pattern() string {
	if c.Subcommand == "" {
		return c.Name
	}
	return c.Name + " " + c.Subcommand
}

// ParseShellCommand parses a shell command string into structured commands.
// Compound commands (pipes, &&, ;) yield one entry each.
func ParseShellCommand(command string) ([]ShellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []ShellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})
	return commands, nil
}

func extractCommand(call *syntax.CallExpr) *ShellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &ShellCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}
	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, dp := range p.Parts {
				if lit, ok := dp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		}
	}
	return sb.String()
}

// MatchesPattern reports whether any command parsed from the bash tool input
// matches the allow-rule pattern. An empty pattern matches everything.
func MatchesPattern(input json.RawMessage, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil || args.Command == "" {
		return false
	}

	commands, err := ParseShellCommand(args.Command)
	if err != nil {
		return false
	}

	for _, cmd := range commands {
		if ok, err := doublestar.Match(pattern, cmd.Pattern()); err == nil && ok {
			return true
		}
		// Also try against the full command line for wide patterns like "git *".
		full := strings.TrimSpace(cmd.Name + " " + strings.Join(cmd.Args, " "))
		if ok, err := doublestar.Match(pattern, full); err == nil && ok {
			return true
		}
	}
	return false
}

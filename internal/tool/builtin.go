package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// EchoTool returns its input text unchanged. Used for plumbing tests and as
// the simplest confirmation-free tool.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) ID() string                 { return "echo" }
func (t *EchoTool) Description() string        { return "Echo the given text back to the model." }
func (t *EchoTool) RequiresConfirmation() bool { return false }

func (t *EchoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "description": "Text to echo"}
		},
		"required": ["text"]
	}`)
}

func (t *EchoTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid echo input: %w", err)
	}
	return &Result{Title: "echo", Output: args.Text}, nil
}

// ReadFileTool reads a file relative to the session working directory.
type ReadFileTool struct {
	workDir string
}

func NewReadFileTool(workDir string) *ReadFileTool {
	return &ReadFileTool{workDir: workDir}
}

func (t *ReadFileTool) ID() string                 { return "readfile" }
func (t *ReadFileTool) Description() string        { return "Read a file and return its contents." }
func (t *ReadFileTool) RequiresConfirmation() bool { return false }

func (t *ReadFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the working directory"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid readfile input: %w", err)
	}

	workDir := toolCtx.WorkDir
	if workDir == "" {
		workDir = t.workDir
	}

	path := args.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", args.Path, err)
	}
	return &Result{Title: args.Path, Output: string(data)}, nil
}

// BashTool runs a shell command in the session working directory.
// Calls to it always require user confirmation unless an allow rule matches.
type BashTool struct {
	workDir string
	timeout time.Duration
}

func NewBashTool(workDir string) *BashTool {
	return &BashTool{workDir: workDir, timeout: 2 * time.Minute}
}

func (t *BashTool) ID() string                 { return "bash" }
func (t *BashTool) Description() string        { return "Run a shell command and return its output." }
func (t *BashTool) RequiresConfirmation() bool { return true }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run"}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid bash input: %w", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return nil, fmt.Errorf("empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	workDir := toolCtx.WorkDir
	if workDir == "" {
		workDir = t.workDir
	}

	cmd := exec.CommandContext(runCtx, "bash", "-c", args.Command)
	cmd.Dir = workDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := &Result{
		Title:  args.Command,
		Output: out.String(),
	}
	if err != nil {
		result.Metadata = map[string]any{"error": err.Error()}
		result.Output = out.String() + "\n" + err.Error()
	}
	return result, nil
}

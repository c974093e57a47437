package extchat

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// PTYProcess is a handle to a child process attached to a pseudo-terminal.
type PTYProcess interface {
	io.Writer
	io.Reader

	PID() int
	// Kill terminates the child and releases the terminal.
	Kill() error
}

// ProcessController abstracts process management so sessions can be tested
// without spawning anything.
type ProcessController interface {
	// SpawnPTY starts command under a pseudo-terminal in workDir.
	SpawnPTY(ctx context.Context, command string, args []string, env []string, workDir string) (PTYProcess, error)

	// SpawnWindow opens an OS terminal window running command in workDir
	// and returns the window process pid.
	SpawnWindow(ctx context.Context, command string, args []string, env []string, workDir string) (int, error)

	// Kill terminates the process with the given pid. Killing an already
	// dead process is not an error.
	Kill(pid int) error
}

// OSController is the real ProcessController.
type OSController struct{}

func NewOSController() *OSController {
	return &OSController{}
}

func (c *OSController) SpawnPTY(ctx context.Context, command string, args []string, env []string, workDir string) (PTYProcess, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), env...)

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s under pty: %w", command, err)
	}
	return &osPTY{file: f, cmd: cmd}, nil
}

func (c *OSController) SpawnWindow(ctx context.Context, command string, args []string, env []string, workDir string) (int, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), env...)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to open terminal window: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the child when the window closes on its own.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

func (c *OSController) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return proc.Kill()
	}
	return nil
}

type osPTY struct {
	file *os.File
	cmd  *exec.Cmd
}

func (p *osPTY) Read(b []byte) (int, error)  { return p.file.Read(b) }
func (p *osPTY) Write(b []byte) (int, error) { return p.file.Write(b) }

func (p *osPTY) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *osPTY) Kill() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	return p.file.Close()
}

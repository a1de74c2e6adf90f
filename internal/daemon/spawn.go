package daemon

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// spawned bundles everything the manager needs about a new subprocess.
type spawned struct {
	pt   ptyHandle
	kill func()
	wait func() int
}

// spawnFunc creates the PTY subprocess. Swapped out in tests.
type spawnFunc func(cwd string, cols, rows int) (*spawned, error)

// osPty adapts the pty master file to ptyHandle.
type osPty struct {
	f *os.File
}

func (p *osPty) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *osPty) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *osPty) Close() error                { return p.f.Close() }

func (p *osPty) Resize(cols, rows int) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// spawnShell starts the user's shell on a fresh pty. The process becomes a
// session leader, so killing its negated pid takes the whole group down.
func spawnShell(cwd string, cols, rows int) (*spawned, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}

	pid := cmd.Process.Pid
	return &spawned{
		pt:   &osPty{f: ptmx},
		kill: func() { _ = syscall.Kill(-pid, syscall.SIGKILL) },
		wait: func() int {
			err := cmd.Wait()
			if err == nil {
				return 0
			}
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode()
			}
			return -1
		},
	}, nil
}

package recorder

import (
	"io"
	"os"
	"os/exec"

	"speech-recorder/internal/command"
)

// process is one running encoder owned by a Session.
type process interface {
	// Control is the encoder's stdin, used for the quit keystroke.
	Control() io.Writer
	// Progress streams `key=value` lines until the encoder exits.
	Progress() io.ReadCloser
	// StderrTail returns the most recent diagnostic output.
	StderrTail() string
	Wait() error
	Kill() error
}

// launcher starts encoder processes; tests replace it with a fake.
type launcher interface {
	Launch(name string, args []string) (process, error)
}

// execLauncher starts real processes via os/exec.
type execLauncher struct{}

// Launch starts name with a control pipe on stdin, progress on a dedicated
// pipe for stdout, and stderr kept apart in a bounded tail.
func (execLauncher) Launch(name string, args []string) (process, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	// An explicit os.Pipe keeps the read side independent of cmd.Wait, so the
	// observer and the waiter never race over closing it.
	progressR, progressW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = progressW

	stderr := command.NewTailBuffer(8 << 10)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		progressR.Close()
		progressW.Close()
		return nil, err
	}
	progressW.Close()

	return &execProcess{cmd: cmd, stdin: stdin, progress: progressR, stderr: stderr}, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	progress *os.File
	stderr   *command.TailBuffer
}

func (p *execProcess) Control() io.Writer      { return p.stdin }
func (p *execProcess) Progress() io.ReadCloser { return p.progress }
func (p *execProcess) StderrTail() string      { return p.stderr.String() }
func (p *execProcess) Wait() error             { return p.cmd.Wait() }
func (p *execProcess) Kill() error             { return p.cmd.Process.Kill() }

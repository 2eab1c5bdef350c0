package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"speech-recorder/internal/domain"
	"speech-recorder/internal/records"
)

// Reporter receives progress from a running command.
type Reporter interface {
	Recording(device, path string)
	Progress(snap domain.ProgressSnapshot)
	Stopped(result domain.RecordingResult)
	Stage(status domain.JobStatus)
	Percent(pct int)
	Transcript(path string)
}

// PlainReporter writes one line per change, for pipes and log files.
type PlainReporter struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func NewPlainReporter(out io.Writer) *PlainReporter {
	return &PlainReporter{out: out}
}

func (r *PlainReporter) Recording(device, path string) {
	r.line(fmt.Sprintf("recording %s to %s (press Enter to stop)", device, path))
}

func (r *PlainReporter) Progress(snap domain.ProgressSnapshot) {
	snap = snap.WithDefaults()
	r.line(fmt.Sprintf("time=%s size=%s speed=%s", snap.OutTime, records.FormatSize(snap.SizeBytes()), snap.Speed))
}

func (r *PlainReporter) Stopped(result domain.RecordingResult) {
	if !result.Success {
		r.line("recording failed: " + result.Reason)
		return
	}
	r.line(fmt.Sprintf("saved %s (%s, %s)", result.OutputFile, result.Duration, records.FormatSize(result.SizeBytes)))
}

func (r *PlainReporter) Stage(status domain.JobStatus) {
	r.line("transcription " + string(status))
}

func (r *PlainReporter) Percent(pct int) {
	r.line(fmt.Sprintf("progress %d%%", pct))
}

func (r *PlainReporter) Transcript(path string) {
	r.line("transcript " + path)
}

// line prints s unless it repeats the previous line.
func (r *PlainReporter) line(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == r.last {
		return
	}
	r.last = s
	fmt.Fprintln(r.out, s)
}

// programReporter forwards reports to a bubbletea program.
type programReporter struct {
	p *tea.Program
}

func (r programReporter) Recording(device, path string) {
	r.p.Send(RecordingMsg{device, path})
}

func (r programReporter) Progress(snap domain.ProgressSnapshot) {
	r.p.Send(ProgressMsg{snap})
}

func (r programReporter) Stopped(result domain.RecordingResult) {
	r.p.Send(StoppedMsg{result})
}

func (r programReporter) Stage(status domain.JobStatus) {
	r.p.Send(StageMsg{status})
}

func (r programReporter) Percent(pct int) {
	r.p.Send(PercentMsg{pct})
}

func (r programReporter) Transcript(path string) {
	r.p.Send(TranscriptMsg{path})
}

// Options selects how Run renders.
type Options struct {
	Title string
	TTY   bool
	In    io.Reader
	Out   io.Writer
}

// Work is the body of a command. stop is closed when the user asks to
// stop (Enter, ctrl+c) or ctx is done.
type Work func(rep Reporter, stop <-chan struct{}) error

// Run executes work with a view chosen by opts and returns work's error.
func Run(ctx context.Context, opts Options, work Work) error {
	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopCh) }) }
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopCh:
		}
	}()

	if !opts.TTY {
		if opts.In != nil {
			go func() {
				if _, err := bufio.NewReader(opts.In).ReadString('\n'); err == nil {
					stop()
				}
			}()
		}
		return work(NewPlainReporter(opts.Out), stopCh)
	}

	p := tea.NewProgram(NewModel(opts.Title, stop), tea.WithInput(opts.In), tea.WithOutput(opts.Out))
	errc := make(chan error, 1)
	go func() {
		err := work(programReporter{p}, stopCh)
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		stop()
		return fmt.Errorf("terminal view: %w", err)
	}
	return <-errc
}

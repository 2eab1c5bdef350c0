package recorder

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"speech-recorder/internal/domain"
)

// fakeProcess simulates an encoder: progress is fed through a pipe, and
// the process exits on "q" unless it is configured to ignore it.
type fakeProcess struct {
	progressR *io.PipeReader
	progressW *io.PipeWriter

	ignoreQuit bool
	controlErr error
	onQuit     func()

	mu      sync.Mutex
	control strings.Builder

	exitOnce sync.Once
	exited   chan struct{}
	killed   atomic.Bool
}

func newFakeProcess() *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{progressR: r, progressW: w, exited: make(chan struct{})}
}

func (p *fakeProcess) Control() io.Writer      { return p }
func (p *fakeProcess) Progress() io.ReadCloser { return p.progressR }
func (p *fakeProcess) StderrTail() string      { return "" }

func (p *fakeProcess) Write(b []byte) (int, error) {
	if p.controlErr != nil {
		return 0, p.controlErr
	}
	p.mu.Lock()
	p.control.Write(b)
	p.mu.Unlock()
	if strings.Contains(string(b), "q") && !p.ignoreQuit {
		if p.onQuit != nil {
			p.onQuit()
		}
		p.exit()
	}
	return len(b), nil
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	if p.killed.Load() {
		return errors.New("signal: killed")
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

func (p *fakeProcess) exit() {
	p.exitOnce.Do(func() {
		p.progressW.Close()
		close(p.exited)
	})
}

func (p *fakeProcess) emit(t *testing.T, s string) {
	t.Helper()
	if _, err := io.WriteString(p.progressW, s); err != nil {
		t.Fatalf("write progress: %v", err)
	}
}

func (p *fakeProcess) controlInput() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.control.String()
}

// fakeLauncher hands out prepared processes and records invocations.
type fakeLauncher struct {
	mu    sync.Mutex
	procs []*fakeProcess
	calls [][]string
	err   error
}

func (l *fakeLauncher) Launch(name string, args []string) (process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.calls = append(l.calls, append([]string{name}, args...))
	if len(l.procs) == 0 {
		return newFakeProcess(), nil
	}
	p := l.procs[0]
	l.procs = l.procs[1:]
	return p, nil
}

func (l *fakeLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func writeOutput(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
}

func waitForProgress(t *testing.T, s *Supervisor, want domain.ProgressSnapshot) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Progress() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("progress = %+v, want %+v", s.Progress(), want)
}

func TestStopWithoutSessionReportsNotRecording(t *testing.T) {
	s := NewSupervisorForTests("linux", &fakeLauncher{}, os.Stat, time.Second)

	result := s.Stop()
	if result.Success {
		t.Fatal("expected success=false")
	}
	if result.Reason != "not recording" {
		t.Fatalf("reason = %q, want not recording", result.Reason)
	}
}

func TestStartTwiceLaunchesOneProcess(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisorForTests("linux", l, os.Stat, time.Second)
	out := filepath.Join(t.TempDir(), "a.mp3")

	first, err := s.Start(Request{Device: "mic", OutputPath: out})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := s.Start(Request{Device: "other", OutputPath: out + "2"})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if first != second {
		t.Fatal("second start should return the running session")
	}
	if got := l.callCount(); got != 1 {
		t.Fatalf("launch calls = %d, want 1", got)
	}
	s.Stop()
}

func TestProgressTracksLatestCompleteLine(t *testing.T) {
	proc := newFakeProcess()
	s := NewSupervisorForTests("linux", &fakeLauncher{procs: []*fakeProcess{proc}}, os.Stat, time.Second)
	out := filepath.Join(t.TempDir(), "a.mp3")

	if got := s.Progress(); got != (domain.ProgressSnapshot{OutTime: "00:00:00.00", TotalSize: "0", Speed: "0"}) {
		t.Fatalf("idle progress = %+v", got)
	}

	if _, err := s.Start(Request{Device: "mic", OutputPath: out}); err != nil {
		t.Fatalf("start: %v", err)
	}

	proc.emit(t, "bitrate=128.0kbits/s\ngarbage line\nout_time=00:00:01.00\ntotal_size=1024\nspeed=1.01x\n")
	waitForProgress(t, s, domain.ProgressSnapshot{OutTime: "00:00:01.00", TotalSize: "1024", Speed: "1.01x"})

	// A line without its newline has not been completely written yet.
	proc.emit(t, "out_time=00:00:0")
	time.Sleep(30 * time.Millisecond)
	if got := s.Progress().OutTime; got != "00:00:01.00" {
		t.Fatalf("out_time after partial write = %q, want 00:00:01.00", got)
	}

	proc.emit(t, "2.00\n")
	waitForProgress(t, s, domain.ProgressSnapshot{OutTime: "00:00:02.00", TotalSize: "1024", Speed: "1.01x"})

	writeOutput(t, out, "mp3")
	result := s.Stop()
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Duration != "00:00:02.00" || result.SizeBytes != 1024 || result.Speed != "1.01x" {
		t.Fatalf("result = %+v", result)
	}
	if result.OutputFile != out {
		t.Fatalf("output = %q, want %q", result.OutputFile, out)
	}
	if got := proc.controlInput(); got != "q\n" {
		t.Fatalf("control input = %q, want q\\n", got)
	}
	if proc.killed.Load() {
		t.Fatal("graceful exit should not kill")
	}
}

func TestUpdatesDeliverSnapshots(t *testing.T) {
	proc := newFakeProcess()
	s := NewSupervisorForTests("linux", &fakeLauncher{procs: []*fakeProcess{proc}}, os.Stat, time.Second)

	sess, err := s.Start(Request{Device: "mic", OutputPath: filepath.Join(t.TempDir(), "a.mp3")})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	proc.emit(t, "out_time=00:00:03.00\n")
	select {
	case snap := <-sess.Updates():
		if snap.OutTime != "00:00:03.00" {
			t.Fatalf("update = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	s.Stop()
	for range sess.Updates() {
	}
}

func TestStopEmptyOutputIsFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.mp3")
	proc := newFakeProcess()
	proc.onQuit = func() { writeOutput(t, out, "") }
	s := NewSupervisorForTests("linux", &fakeLauncher{procs: []*fakeProcess{proc}}, os.Stat, time.Second)

	if _, err := s.Start(Request{Device: "mic", OutputPath: out}); err != nil {
		t.Fatalf("start: %v", err)
	}

	result := s.Stop()
	if result.Success {
		t.Fatalf("result = %+v, want failure for empty file", result)
	}
	if !strings.Contains(result.Reason, "empty") {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestStopMissingOutputIsFailure(t *testing.T) {
	s := NewSupervisorForTests("linux", &fakeLauncher{}, os.Stat, time.Second)
	if _, err := s.Start(Request{Device: "mic", OutputPath: filepath.Join(t.TempDir(), "none.mp3")}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if result := s.Stop(); result.Success {
		t.Fatalf("result = %+v, want failure", result)
	}
}

func TestStopKillsUnresponsiveEncoder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a.mp3")
	writeOutput(t, out, "partial")
	proc := newFakeProcess()
	proc.ignoreQuit = true

	grace := 50 * time.Millisecond
	s := NewSupervisorForTests("linux", &fakeLauncher{procs: []*fakeProcess{proc}}, os.Stat, grace)
	if _, err := s.Start(Request{Device: "mic", OutputPath: out}); err != nil {
		t.Fatalf("start: %v", err)
	}

	began := time.Now()
	result := s.Stop()
	elapsed := time.Since(began)

	if !proc.killed.Load() {
		t.Fatal("expected encoder to be killed")
	}
	if elapsed < grace {
		t.Fatalf("stop returned after %v, before grace period %v", elapsed, grace)
	}
	if elapsed > grace+time.Second {
		t.Fatalf("stop took %v, want bounded by grace period", elapsed)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success for non-empty file", result)
	}
	if s.Active() {
		t.Fatal("supervisor should be idle after stop")
	}
}

func TestStopToleratesQuitWriteFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a.mp3")
	writeOutput(t, out, "data")
	proc := newFakeProcess()
	proc.controlErr = io.ErrClosedPipe

	s := NewSupervisorForTests("linux", &fakeLauncher{procs: []*fakeProcess{proc}}, os.Stat, 20*time.Millisecond)
	if _, err := s.Start(Request{Device: "mic", OutputPath: out}); err != nil {
		t.Fatalf("start: %v", err)
	}

	result := s.Stop()
	if !proc.killed.Load() {
		t.Fatal("expected kill fallback after failed quit")
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if again := s.Stop(); again.Reason != NotRecordingReason {
		t.Fatalf("second stop reason = %q, want %q", again.Reason, NotRecordingReason)
	}
}

func TestResultErr(t *testing.T) {
	if err := ResultErr(domain.RecordingResult{Success: true, OutputFile: "/rec/a.mp3"}); err != nil {
		t.Fatalf("ResultErr(success) = %v, want nil", err)
	}

	s := NewSupervisorForTests("linux", &fakeLauncher{}, os.Stat, time.Second)
	if err := ResultErr(s.Stop()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("ResultErr(idle stop) = %v, want %v", err, ErrNotRecording)
	}

	err := ResultErr(domain.RecordingResult{Reason: "output file is empty"})
	if err == nil || errors.Is(err, ErrNotRecording) || err.Error() != "output file is empty" {
		t.Fatalf("ResultErr(failure) = %v, want the failure reason", err)
	}
}

func TestStartLaunchFailurePropagates(t *testing.T) {
	s := NewSupervisorForTests("linux", &fakeLauncher{err: errors.New("exec: \"ffmpeg\": executable file not found")}, os.Stat, time.Second)

	sess, err := s.Start(Request{Device: "mic", OutputPath: "/tmp/x.mp3"})
	if err == nil {
		t.Fatal("expected launch error")
	}
	if sess != nil {
		t.Fatal("expected no session")
	}
	if s.Active() {
		t.Fatal("supervisor should stay idle")
	}
}

func TestStartValidatesRequest(t *testing.T) {
	s := NewSupervisorForTests("linux", &fakeLauncher{}, os.Stat, time.Second)
	if _, err := s.Start(Request{OutputPath: "/tmp/x.mp3"}); err == nil {
		t.Fatal("expected error for empty device")
	}
	if _, err := s.Start(Request{Device: "mic"}); err == nil {
		t.Fatal("expected error for empty output path")
	}
}

func TestStartAfterEncoderExitedLaunchesNewProcess(t *testing.T) {
	crashed := newFakeProcess()
	l := &fakeLauncher{procs: []*fakeProcess{crashed}}
	s := NewSupervisorForTests("linux", l, os.Stat, time.Second)
	dir := t.TempDir()

	first, err := s.Start(Request{Device: "mic", OutputPath: filepath.Join(dir, "a.mp3")})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	crashed.exit()
	<-first.Exited()

	if s.Active() {
		t.Fatal("session should be inactive after encoder exit")
	}

	second, err := s.Start(Request{Device: "mic", OutputPath: filepath.Join(dir, "b.mp3")})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second == first {
		t.Fatal("expected a new session")
	}
	if got := l.callCount(); got != 2 {
		t.Fatalf("launch calls = %d, want 2", got)
	}
	s.Stop()
}

func TestBuildRecordArgs(t *testing.T) {
	got := buildRecordArgs("windows", Request{Device: "Mic (USB)", OutputPath: "out.mp3", Bitrate: "192k"})
	want := []string{
		"-hide_banner",
		"-f", "dshow",
		"-i", "audio=Mic (USB)",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"out.mp3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
}

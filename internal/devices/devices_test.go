package devices

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"speech-recorder/internal/command"
)

type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (command.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	return f.run(ctx, name, args...)
}

const dshowOutput = `[dshow @ 000001d2] "Integrated Webcam" (video)
[dshow @ 000001d2]   Alternative name "@device_pnp_\\?\usb#vid"
[dshow @ 000001d2] "Microphone (Realtek(R) Audio)" (audio)
[dshow @ 000001d2]   Alternative name "@device_cm_{33D9A762}\wave_{1}"
[dshow @ 000001d2] "Stereo Mix (Realtek(R) Audio)" (audio)
dummy: Immediate exit requested
`

const avfoundationOutput = `[AVFoundation indev @ 0x7f8] AVFoundation video devices:
[AVFoundation indev @ 0x7f8] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7f8] [1] Capture screen 0
[AVFoundation indev @ 0x7f8] AVFoundation audio devices:
[AVFoundation indev @ 0x7f8] [0] MacBook Pro Microphone
[AVFoundation indev @ 0x7f8] [1] BlackHole 2ch
[in#0 @ 0x7f9] Error opening input: Input/output error
`

const pulseOutput = `Auto-detected sources for pulse:
* alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]
  alsa_output.pci-0000_00_1f.3.analog-stereo.monitor [Monitor of Built-in Audio Analog Stereo]
`

func TestListParsesPlatformOutput(t *testing.T) {
	for _, tt := range []struct {
		goos   string
		stdout string
		stderr string
		want   []string
	}{
		{"windows", "", dshowOutput, []string{"Microphone (Realtek(R) Audio)", "Stereo Mix (Realtek(R) Audio)"}},
		{"darwin", "", avfoundationOutput, []string{"MacBook Pro Microphone", "BlackHole 2ch"}},
		{"linux", pulseOutput, "", []string{
			"alsa_input.pci-0000_00_1f.3.analog-stereo",
			"alsa_output.pci-0000_00_1f.3.analog-stereo.monitor",
		}},
	} {
		t.Run(tt.goos, func(t *testing.T) {
			var gotArgs []string
			runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (command.Result, error) {
				gotArgs = args
				return command.Result{Stdout: tt.stdout, Stderr: tt.stderr, ExitCode: 1}, errors.New("exit status 1")
			}}
			native := func(context.Context) ([]string, error) {
				t.Fatal("native listing should not run when ffmpeg found devices")
				return nil, nil
			}

			got := NewListerForTests(tt.goos, runner, native).List(context.Background())
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("devices = %q, want %q", got, tt.want)
			}
			if !reflect.DeepEqual(gotArgs, ListArgs(tt.goos)) {
				t.Fatalf("args = %v, want %v", gotArgs, ListArgs(tt.goos))
			}
		})
	}
}

func TestListFallsBackToNative(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		return command.Result{ExitCode: -1}, errors.New("executable file not found")
	}}
	native := func(context.Context) ([]string, error) {
		return []string{"USB Mic"}, nil
	}

	got := NewListerForTests("windows", runner, native).List(context.Background())
	if !reflect.DeepEqual(got, []string{"USB Mic"}) {
		t.Fatalf("devices = %q", got)
	}
}

func TestListReturnsEmptyWhenNothingAvailable(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (command.Result, error) {
		return command.Result{ExitCode: -1}, errors.New("executable file not found")
	}}
	native := func(context.Context) ([]string, error) {
		return nil, errors.New("no audio server")
	}

	got := NewListerForTests("linux", runner, native).List(context.Background())
	if got == nil || len(got) != 0 {
		t.Fatalf("devices = %#v, want empty non-nil slice", got)
	}

	got = NewListerForTests("linux", runner, nil).List(context.Background())
	if got == nil || len(got) != 0 {
		t.Fatalf("devices without native = %#v, want empty non-nil slice", got)
	}
}

func TestInputSpec(t *testing.T) {
	for _, tt := range []struct{ goos, format, spec string }{
		{"windows", FormatDShow, "audio=Mic"},
		{"darwin", FormatAVFoundation, ":Mic"},
		{"linux", FormatPulse, "Mic"},
	} {
		t.Run(tt.goos, func(t *testing.T) {
			if got := InputFormat(tt.goos); got != tt.format {
				t.Errorf("format = %q, want %q", got, tt.format)
			}
			if got := InputSpec(tt.goos, "Mic"); got != tt.spec {
				t.Errorf("spec = %q, want %q", got, tt.spec)
			}
		})
	}
}

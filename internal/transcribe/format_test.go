package transcribe

import "testing"

func TestFormatTimestamp(t *testing.T) {
	for _, tt := range []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00.000"},
		{1.5, "00:00:01.500"},
		{59.9996, "00:01:00.000"},
		{61.25, "00:01:01.250"},
		{3723.004, "01:02:03.004"},
		{-2, "00:00:00.000"},
	} {
		if got := FormatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFormatSegmentTrimsText(t *testing.T) {
	got := FormatSegment(Segment{Start: 0, End: 1.5, Text: "  hello \n"})
	want := "[00:00:00.000 --> 00:00:01.500] hello\n"
	if got != want {
		t.Fatalf("FormatSegment() = %q, want %q", got, want)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	for input, want := range map[string]string{
		"/rec/20240101_120000.mp3": "/rec/20240101_120000.txt",
		"/rec/voice":               "/rec/voice.txt",
		"/rec/a.b.wav":             "/rec/a.b.txt",
	} {
		if got := DefaultOutputPath(input); got != want {
			t.Errorf("DefaultOutputPath(%q) = %q, want %q", input, got, want)
		}
	}
}

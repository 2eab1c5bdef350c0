package domain

import (
	"testing"
	"time"
)

func TestNewDiagnosticReportIgnoresWarnings(t *testing.T) {
	items := []DiagnosticItem{
		{ID: "tool_ffmpeg", Status: DiagnosticStatusPass},
		{ID: "audio_devices", Status: DiagnosticStatusWarn},
	}
	report := NewDiagnosticReport(time.Unix(0, 0), items)
	if report.HasFailures {
		t.Fatal("warnings must not count as failures")
	}

	items = append(items, DiagnosticItem{ID: "output_dir", Status: DiagnosticStatusFail})
	if !NewDiagnosticReport(time.Unix(0, 0), items).HasFailures {
		t.Fatal("expected failure")
	}
}

func TestDiagnosticReportItem(t *testing.T) {
	report := DiagnosticReport{Items: []DiagnosticItem{{ID: "model_path", Message: "missing"}}}
	if item, ok := report.Item("model_path"); !ok || item.Message != "missing" {
		t.Fatalf("item = %+v, ok = %v", item, ok)
	}
	if _, ok := report.Item("tool_ffmpeg"); ok {
		t.Fatal("unexpected item")
	}
}

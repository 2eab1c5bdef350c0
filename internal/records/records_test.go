package records

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("%s should not exist (stat err = %v)", path, err)
	}
}

func TestNewName(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.Local)
	if got := NewName(now); got != "20240309_070501.mp3" {
		t.Fatalf("NewName() = %q", got)
	}
}

func TestListSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	writeFile(t, a, "1234")
	writeFile(t, TranscriptPath(a, ""), "[00:00:00.000 --> 00:00:01.000] hi\n")

	entries := List([]string{a, b, dir}, "")
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want only a.mp3", entries)
	}
	got := entries[0]
	if got.Name != "a.mp3" || got.SizeBytes != 4 || got.Size != "4 B" {
		t.Fatalf("entry = %+v", got)
	}
	if got.Transcript != filepath.Join(dir, "a.txt") {
		t.Fatalf("transcript = %q", got.Transcript)
	}
}

func TestRenameKeepsExtensionAndMovesTranscript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20240101_120000.mp3")
	writeFile(t, path, "audio")
	writeFile(t, TranscriptPath(path, ""), "text")

	newPath, err := Rename(path, "standup", "")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if newPath != filepath.Join(dir, "standup.mp3") {
		t.Fatalf("new path = %q", newPath)
	}
	if _, err := os.Stat(filepath.Join(dir, "standup.txt")); err != nil {
		t.Fatalf("transcript not moved: %v", err)
	}
	assertMissing(t, path)
	assertMissing(t, TranscriptPath(path, ""))

	if again, err := Rename(newPath, "final.MP3", ""); err != nil || filepath.Base(again) != "final.MP3" {
		t.Fatalf("Rename(with extension) = %q, %v", again, err)
	}
}

func TestRenameRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3")
	writeFile(t, path, "audio")
	writeFile(t, filepath.Join(dir, "b.mp3"), "other")

	for _, name := range []string{"", "  ", "../x", `sub\x`, ".."} {
		if _, err := Rename(path, name, ""); err == nil {
			t.Errorf("Rename(%q) should fail", name)
		}
	}
	if _, err := Rename(path, "b", ""); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("Rename onto existing file error = %v, want fs.ErrExist", err)
	}
}

func TestDeleteRemovesTranscript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3")
	writeFile(t, path, "audio")
	writeFile(t, TranscriptPath(path, ""), "text")

	if err := Delete(path, ""); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertMissing(t, path)
	assertMissing(t, TranscriptPath(path, ""))

	if err := Delete(path, ""); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestTranscriptPath(t *testing.T) {
	audio := filepath.Join("rec", "standup.mp3")
	for _, tt := range []struct {
		dir  string
		want string
	}{
		{"", filepath.Join("rec", "standup.txt")},
		{"  ", filepath.Join("rec", "standup.txt")},
		{filepath.Join("notes", "txt"), filepath.Join("notes", "txt", "standup.txt")},
	} {
		if got := TranscriptPath(audio, tt.dir); got != tt.want {
			t.Errorf("TranscriptPath(%q, %q) = %q, want %q", audio, tt.dir, got, tt.want)
		}
	}
}

func TestTranscriptFolderFollowsRenameAndDelete(t *testing.T) {
	audioDir, txtDir := t.TempDir(), t.TempDir()
	path := filepath.Join(audioDir, "a.mp3")
	writeFile(t, path, "audio")
	writeFile(t, filepath.Join(txtDir, "a.txt"), "text")
	// With a folder set, a text file next to the audio is not the transcript.
	writeFile(t, filepath.Join(audioDir, "a.txt"), "stale")

	entries := List([]string{path}, txtDir)
	if len(entries) != 1 || entries[0].Transcript != filepath.Join(txtDir, "a.txt") {
		t.Fatalf("entries = %+v, want transcript in %s", entries, txtDir)
	}

	newPath, err := Rename(path, "b", txtDir)
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(txtDir, "b.txt")); err != nil {
		t.Fatalf("transcript not moved within folder: %v", err)
	}
	assertMissing(t, filepath.Join(txtDir, "a.txt"))
	if _, err := os.Stat(filepath.Join(audioDir, "a.txt")); err != nil {
		t.Fatalf("sibling text file was touched: %v", err)
	}

	if err := Delete(newPath, txtDir); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertMissing(t, newPath)
	assertMissing(t, filepath.Join(txtDir, "b.txt"))
}

func TestReplaceAndRemove(t *testing.T) {
	paths := []string{"/a.mp3", "/b.mp3"}
	if got := Replace(paths, "/a.mp3", "/c.mp3"); !reflect.DeepEqual(got, []string{"/c.mp3", "/b.mp3"}) {
		t.Fatalf("Replace() = %v", got)
	}
	if got := Replace(paths, "/x.mp3", "/d.mp3"); !reflect.DeepEqual(got, []string{"/a.mp3", "/b.mp3", "/d.mp3"}) {
		t.Fatalf("Replace(missing) = %v", got)
	}
	if got := Remove(paths, "/a.mp3"); !reflect.DeepEqual(got, []string{"/b.mp3"}) {
		t.Fatalf("Remove() = %v", got)
	}
}

func TestFormatSize(t *testing.T) {
	for _, tt := range []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.5 GB"},
	} {
		if got := FormatSize(tt.n); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

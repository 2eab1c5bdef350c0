// Package records manages the library of finished recordings and their
// transcripts. Transcripts live in a configured folder, or next to the audio
// when none is set.
package records

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const nameLayout = "20060102_150405"

// Entry is one recording on disk.
type Entry struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"sizeBytes"`
	Size       string    `json:"size"`
	ModTime    time.Time `json:"modTime"`
	Transcript string    `json:"transcript,omitempty"`
}

// NewName returns the timestamped file name for a recording started at now.
func NewName(now time.Time) string {
	return now.Format(nameLayout) + ".mp3"
}

// TranscriptPath returns where the transcript of audioPath is written:
// transcriptDir/<audio base>.txt, or the audio's own directory when
// transcriptDir is empty.
func TranscriptPath(audioPath, transcriptDir string) string {
	dir := strings.TrimSpace(transcriptDir)
	if dir == "" {
		dir = filepath.Dir(audioPath)
	}
	base := filepath.Base(audioPath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".txt")
}

// List returns entries for the paths that still exist, in input order.
func List(paths []string, transcriptDir string) []Entry {
	out := make([]Entry, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		entry := Entry{
			Path:      path,
			Name:      filepath.Base(path),
			SizeBytes: info.Size(),
			Size:      FormatSize(info.Size()),
			ModTime:   info.ModTime(),
		}
		if txt := TranscriptPath(path, transcriptDir); fileExists(txt) {
			entry.Transcript = txt
		}
		out = append(out, entry)
	}
	return out
}

// Rename moves a recording within its directory and carries its transcript
// along. The original extension is appended when newName lacks it.
func Rename(path, newName, transcriptDir string) (string, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == "." || newName == ".." || strings.ContainsAny(newName, `/\`) {
		return "", fmt.Errorf("invalid recording name: %q", newName)
	}

	ext := filepath.Ext(path)
	if !strings.HasSuffix(strings.ToLower(newName), strings.ToLower(ext)) {
		newName += ext
	}
	newPath := filepath.Join(filepath.Dir(path), newName)
	if newPath == path {
		return path, nil
	}
	if fileExists(newPath) {
		return "", fmt.Errorf("rename %s: %w", newName, fs.ErrExist)
	}

	if err := os.Rename(path, newPath); err != nil {
		return "", fmt.Errorf("rename recording: %w", err)
	}

	oldTxt, newTxt := TranscriptPath(path, transcriptDir), TranscriptPath(newPath, transcriptDir)
	if fileExists(oldTxt) {
		if err := os.Rename(oldTxt, newTxt); err != nil {
			return newPath, fmt.Errorf("rename transcript: %w", err)
		}
	}
	return newPath, nil
}

// Delete removes a recording and its transcript. Missing files are ignored.
func Delete(path, transcriptDir string) error {
	var errs []error
	for _, p := range []string{path, TranscriptPath(path, transcriptDir)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Replace swaps oldPath for newPath in paths, appending it when absent.
func Replace(paths []string, oldPath, newPath string) []string {
	out := make([]string, 0, len(paths)+1)
	found := false
	for _, p := range paths {
		if p == oldPath {
			p, found = newPath, true
		}
		out = append(out, p)
	}
	if !found {
		out = append(out, newPath)
	}
	return out
}

// Remove drops path from paths.
func Remove(paths []string, path string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != path {
			out = append(out, p)
		}
	}
	return out
}

// FormatSize renders a byte count as B, KB, MB, or GB with one decimal.
func FormatSize(n int64) string {
	const unit = 1024
	switch {
	case n >= unit*unit*unit:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	case n >= unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

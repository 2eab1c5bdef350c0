package domain

import (
	"strconv"
	"strings"
)

// Defaults reported when ffmpeg has not emitted a progress key yet.
const (
	DefaultOutTime   = "00:00:00.00"
	DefaultTotalSize = "0"
	DefaultSpeed     = "0"
)

// ProgressSnapshot is the latest parsed encoder progress. It is never mutated
// after publication; updates replace it wholesale.
type ProgressSnapshot struct {
	OutTime   string `json:"outTime"`
	TotalSize string `json:"totalSize"`
	Speed     string `json:"speed"`
}

// WithDefaults fills fields ffmpeg has not reported yet.
func (p ProgressSnapshot) WithDefaults() ProgressSnapshot {
	if p.OutTime == "" {
		p.OutTime = DefaultOutTime
	}
	if p.TotalSize == "" {
		p.TotalSize = DefaultTotalSize
	}
	if p.Speed == "" {
		p.Speed = DefaultSpeed
	}
	return p
}

// SizeBytes parses TotalSize, treating anything non-numeric as 0.
func (p ProgressSnapshot) SizeBytes() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(p.TotalSize), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RecordingResult is returned when a recording session is stopped.
type RecordingResult struct {
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	OutputFile string `json:"outputFile"`
	Duration   string `json:"duration,omitempty"`
	SizeBytes  int64  `json:"sizeBytes"`
	Speed      string `json:"speed,omitempty"`
}

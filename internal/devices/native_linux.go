//go:build linux

package devices

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"
)

// nativeDevices asks PulseAudio for its sources. The source ID is the name
// ffmpeg's pulse input expects.
func nativeDevices(_ context.Context) ([]string, error) {
	client, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.ID())
	}
	return names, nil
}

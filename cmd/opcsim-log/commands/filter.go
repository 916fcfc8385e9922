package commands

import (
	"fmt"

	"github.com/mash-protocol/opcsim-go/pkg/log"
)

// RunFilter copies the matching events into a new capture file and
// returns how many were written.
func RunFilter(path string, filter log.Filter, output string) (int, error) {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	err = forEach(reader, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	if cerr := logger.Close(); err == nil {
		err = cerr
	}
	return count, err
}

package transfer

import (
	"errors"
	"fmt"
	"os"
)

// ErrNoStaging is returned by Install when the staging file is missing.
var ErrNoStaging = errors.New("staging file missing")

// Install publishes a verified staging file at finalPath with a single
// rename, so readers of finalPath see either the previous file or the
// complete new one.
func Install(stagingPath, finalPath string) error {
	f, err := os.OpenFile(stagingPath, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoStaging, stagingPath)
		}

		return fmt.Errorf("opening staging file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	if err := os.Rename(stagingPath, finalPath); err != nil {
		return fmt.Errorf("renaming staging file: %w", err)
	}

	return nil
}

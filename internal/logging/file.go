package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// OpenDailyFile opens (creating if needed) dir/appName-YYYY-MM-DD.log for appending.
func OpenDailyFile(dir, appName string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.log", appName, now.Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Tee returns a writer that logs to both w and the daily file in dir. With an
// empty dir it returns w unchanged and a no-op closer.
func Tee(w io.Writer, dir, appName string) (io.Writer, func() error, error) {
	if dir == "" {
		return w, func() error { return nil }, nil
	}
	f, err := OpenDailyFile(dir, appName, time.Now())
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(w, f), f.Close, nil
}

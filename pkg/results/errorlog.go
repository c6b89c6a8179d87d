package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLog accumulates advisory lines (missing inputs, missing outputs).
// Appending never affects control flow of the caller beyond the returned error.
type ErrorLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewErrorLog returns a log appending to path
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path, now: time.Now}
}

// Appendf appends one timestamped line
func (l *ErrorLog) Appendf(format string, args ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	line := fmt.Sprintf(format, args...)
	if _, err := fmt.Fprintf(file, "%s %s\n", l.now().Format(time.RFC3339), line); err != nil {
		return err
	}
	return file.Close()
}

// MissingFiles returns the subset of paths that do not exist
func MissingFiles(paths ...string) []string {
	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

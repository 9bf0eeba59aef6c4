package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

const historyLockRetry = 50 * time.Millisecond

// AppendHistory appends summary as one JSON line to path. Concurrent runs
// writing the same file are serialized through a sibling lock file.
func AppendHistory(ctx context.Context, path string, summary Summary) error {
	line, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, historyLockRetry)
	if err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock history file %s: not acquired", path)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write history file: %w", err)
	}
	return f.Close()
}

package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/voxmetra/voxmetra/pkg/types"
)

// Journal persists completed session records as append-only JSON lines in a
// local file, one record per line. It is a secondary sink beside the store:
// cheap to grep, trivial to replay.
//
// Thread-safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal creates a Journal that writes to the given path. The file is
// created on first append.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append writes one session record to the journal.
func (j *Journal) Append(record types.SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

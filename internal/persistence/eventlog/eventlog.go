// Package eventlog archives the event history of ended sessions as
// zstd-compressed JSONL, one file per session. A durability aid for audit
// and replay; never on the gameplay path.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"emberhall.gg/internal/session"
)

type Archive struct {
	baseDir string
}

func New(baseDir string) *Archive {
	return &Archive{baseDir: baseDir}
}

// ArchiveSession writes one line per history entry. The filename carries
// the end date so old archives are easy to sweep.
func (a *Archive) ArchiveSession(sessionID string, entries []session.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(a.baseDir, 0o755); err != nil {
		return err
	}
	day := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(a.baseDir, fmt.Sprintf("session-%s-%s.jsonl.zst", day, sessionID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w := bufio.NewWriterSize(enc, 64*1024)

	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			_ = enc.Close()
			_ = f.Close()
			return err
		}
		if _, err := w.Write(b); err != nil {
			_ = enc.Close()
			_ = f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = enc.Close()
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadSession decodes an archive back into history entries, for replay
// tooling and tests.
func ReadSession(path string) ([]session.HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []session.HistoryEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e session.HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

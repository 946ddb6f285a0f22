// Package export writes pipeline outputs as files: one JSON-lines file
// for objects, one for connectivity edges, and a single JSON run report.
// Files are written to a temporary name and renamed into place, so a
// crashed run never leaves a partial artifact behind at the final path.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/types"
)

// Artifact file names inside the output directory
const (
	ObjectsFile      = "objects.jsonl"
	ConnectivityFile = "connectivity.jsonl"
	ReportFile       = "report.json"
)

// Writer writes run artifacts into an output directory
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates the output directory if needed and returns a writer
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "NewWriter", "output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Writer", "NewWriter", "create output directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// WriteObjects writes the object set as JSON lines, one object per line,
// and returns the final path.
func (w *Writer) WriteObjects(objects []*types.AgglomeratedObject) (string, error) {
	return w.writeJSONL(ObjectsFile, len(objects), func(i int) any { return objects[i] })
}

// WriteConnectivity writes the connectivity edges as JSON lines
func (w *Writer) WriteConnectivity(edges []types.ConnectivityEdge) (string, error) {
	return w.writeJSONL(ConnectivityFile, len(edges), func(i int) any { return edges[i] })
}

// WriteReport writes the run report as a single indented JSON document
func (w *Writer) WriteReport(report any) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.WrapInvalid(err, "Writer", "WriteReport", "marshal report")
	}
	data = append(data, '\n')

	final := filepath.Join(w.dir, ReportFile)
	if err := w.atomicWrite(final, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return "", err
	}
	w.logger.Info("report written", "path", final)
	return final, nil
}

// writeJSONL writes n items as JSON lines via a temp file and rename
func (w *Writer) writeJSONL(name string, n int, item func(int) any) (string, error) {
	final := filepath.Join(w.dir, name)
	err := w.atomicWrite(final, func(f *os.File) error {
		buf := bufio.NewWriter(f)
		enc := json.NewEncoder(buf)
		for i := 0; i < n; i++ {
			if err := enc.Encode(item(i)); err != nil {
				return fmt.Errorf("encode line %d: %w", i, err)
			}
		}
		return buf.Flush()
	})
	if err != nil {
		return "", err
	}
	w.logger.Info("artifact written", "path", final, "lines", n)
	return final, nil
}

// atomicWrite writes through a temp file in the same directory and renames
// it over the final path on success.
func (w *Writer) atomicWrite(final string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(w.dir, filepath.Base(final)+".tmp-*")
	if err != nil {
		return errors.WrapFatal(err, "Writer", "atomicWrite", "create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := write(tmp); err != nil {
		tmp.Close()
		return errors.WrapFatal(err, "Writer", "atomicWrite", "write "+filepath.Base(final))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WrapFatal(err, "Writer", "atomicWrite", "sync "+filepath.Base(final))
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapFatal(err, "Writer", "atomicWrite", "close temp file")
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return errors.WrapFatal(err, "Writer", "atomicWrite", "rename into place")
	}
	return nil
}

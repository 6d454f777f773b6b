// Package artifact handles stage-boundary file IO: canonical JSON and CSV
// outputs, the fallback-aware interim record store, publication checksums,
// and the processed-to-docs sync.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PublishedNames are the processed artifacts served to the static viewer.
// Checksums and the docs sync operate over exactly this set.
var PublishedNames = []string{
	"trials_curated.json",
	"summary_overall.json",
	"summary_by_rob.json",
	"review_queue.csv",
	"validation_report.json",
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: create %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrapf(err, "artifact: encode %s", path)
	}
	return nil
}

// ReadJSONFile decodes one JSON artifact into T.
func ReadJSONFile[T any](path string) (T, error) {
	var out T
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, eris.Wrapf(err, "artifact: read %s", path)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrapf(err, "artifact: decode %s", path)
	}
	return out, nil
}

// WriteCSV writes a header plus records, creating parent directories. Every
// record must match the column count.
func WriteCSV(path string, columns []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return eris.Wrapf(err, "artifact: write header of %s", path)
	}
	for i, record := range records {
		if len(record) != len(columns) {
			return eris.Errorf("artifact: %s row %d has %d cells, want %d", path, i, len(record), len(columns))
		}
		if err := w.Write(record); err != nil {
			return eris.Wrapf(err, "artifact: write row %d of %s", i, path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "artifact: flush %s", path)
	}
	return nil
}

// FileSHA256 returns the hex SHA256 digest of one file.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "artifact: open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "artifact: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksums computes SHA256 digests for the named files under dir. Names
// without a file are skipped so publication can run while optional artifacts
// are still pending.
func Checksums(ctx context.Context, dir string, names []string) (map[string]string, error) {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)

	digests := make([]string, len(names))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			sum, err := FileSHA256(filepath.Join(dir, name))
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			digests[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for i, name := range names {
		if digests[i] != "" {
			out[name] = digests[i]
		}
	}
	return out, nil
}

// SyncDir copies the named artifacts from src into dst, creating dst. Missing
// sources are skipped. It returns the names actually copied, in input order.
func SyncDir(src, dst string, names []string) ([]string, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, eris.Wrapf(err, "artifact: create %s", dst)
	}

	copied := make([]string, 0, len(names))
	for _, name := range names {
		in, err := os.Open(filepath.Join(src, name))
		if os.IsNotExist(err) {
			zap.L().Debug("sync skipping missing artifact", zap.String("name", name))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: open %s", name)
		}

		out, err := os.Create(filepath.Join(dst, name))
		if err != nil {
			in.Close()
			return nil, eris.Wrapf(err, "artifact: create %s", name)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: copy %s", name)
		}
		copied = append(copied, name)
	}
	return copied, nil
}

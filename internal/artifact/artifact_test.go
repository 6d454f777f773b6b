package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")

	require.NoError(t, WriteJSON(path, map[string]int{"rows": 3}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"rows\": 3\n}\n", string(raw))
}

func TestReadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"n_trials": 7}`), 0o644))

	out, err := ReadJSONFile[map[string]int](path)
	require.NoError(t, err)
	assert.Equal(t, 7, out["n_trials"])

	_, err = ReadJSONFile[map[string]int](filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")

	err := WriteCSV(path, []string{"a", "b"}, [][]string{{"1", "2"}, {"3", "4"}})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,4\n", string(raw))
}

func TestWriteCSV_RejectsRaggedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")

	err := WriteCSV(path, []string{"a", "b"}, [][]string{{"1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 1 cells, want 2")
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":1}`), 0o644))

	sum, err := FileSHA256(path)
	require.NoError(t, err)
	want := sha256.Sum256([]byte(`{"schema_version":1}`))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)

	_, err = FileSHA256(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestChecksums(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trials_curated.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review_queue.csv"), []byte("a,b\n"), 0o644))

	sums, err := Checksums(context.Background(), dir, PublishedNames)
	require.NoError(t, err)

	// Absent artifacts are skipped, present ones hashed.
	require.Len(t, sums, 2)
	want := sha256.Sum256([]byte("[]"))
	assert.Equal(t, hex.EncodeToString(want[:]), sums["trials_curated.json"])
	assert.Contains(t, sums, "review_queue.csv")
	assert.NotContains(t, sums, "summary_overall.json")
}

func TestSyncDir(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "docs", "data")
	require.NoError(t, os.WriteFile(filepath.Join(src, "trials_curated.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "summary_overall.json"), []byte("{}"), 0o644))

	copied, err := SyncDir(src, dst, PublishedNames)
	require.NoError(t, err)
	assert.Equal(t, []string{"trials_curated.json", "summary_overall.json"}, copied)

	raw, err := os.ReadFile(filepath.Join(dst, "trials_curated.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	_, err = os.Stat(filepath.Join(dst, "review_queue.csv"))
	assert.True(t, os.IsNotExist(err))
}

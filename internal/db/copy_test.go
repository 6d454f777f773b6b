package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "run_artifacts", []string{"run_id", "path"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"run_artifacts"}, []string{"run_id", "path"}).WillReturnResult(3)

	rows := [][]any{
		{"run-1", "a.json"},
		{"run-1", "b.json"},
		{"run-1", "c.csv"},
	}
	n, err := CopyFrom(context.Background(), mock, "run_artifacts", []string{"run_id", "path"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"run_artifacts"}, []string{"run_id", "path"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"run-1", "a.json"}}
	_, err = CopyFrom(context.Background(), mock, "run_artifacts", []string{"run_id", "path"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO run_artifacts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
)

func writeDoc(t *testing.T, rows int) string {
	t.Helper()
	table := domain.Table{Rows: [][]string{{"Item", "Description", "Qty", "Unit"}}, PageNumbers: []int{1}}
	for i := 1; i <= rows; i++ {
		table.Rows = append(table.Rows, []string{fmt.Sprint(i), fmt.Sprintf("Flange WN 150# %d in", i), "4", "EA"})
	}
	data, err := json.Marshal(domain.Document{Text: "RFQ 7", Tables: []domain.Table{table}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRun_NoModel_JSON(t *testing.T) {
	t.Setenv("SMARTMETAL_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--no-model", writeDoc(t, 3)}, nil, &stdout, &stderr)

	require.Equal(t, exitOK, code, stderr.String())
	var res domain.ExtractionResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Len(t, res.LineItems, 3)
	assert.Equal(t, domain.ModeRawOnly, res.Confidence.Mode)
}

func TestRun_Stdin_CSVToFile(t *testing.T) {
	t.Setenv("SMARTMETAL_LOG_LEVEL", "error")
	data, err := os.ReadFile(writeDoc(t, 2))
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "items.csv")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--no-model", "-f", "csv", "-o", out, "-"},
		bytes.NewReader(data), &stdout, &stderr)

	require.Equal(t, exitOK, code, stderr.String())
	assert.Empty(t, stdout.String())
	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(written), "Flange WN 150# 2 in")
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), nil, nil, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "exactly one input document")
}

func TestRun_UnsupportedFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-f", "pdf", "doc.json"}, nil, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "unsupported export format")
}

func TestRun_InvalidDocument(t *testing.T) {
	t.Setenv("SMARTMETAL_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--no-model", "-"}, strings.NewReader("not json"), &stdout, &stderr)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "invalid document")
}

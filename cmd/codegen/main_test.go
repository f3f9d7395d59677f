package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
)

func sampleBatch() *chargecode.Batch {
	id := uuid.MustParse("5b0f2f55-6a43-4b3c-9d0e-0f3b1c2d4e5f")
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &chargecode.Batch{
		BatchID: id,
		Amount:  5000,
		Codes: []chargecode.ChargeCode{
			{Code: "AB12CD34", Amount: 5000, BatchID: id, CreatedAt: created},
			{Code: "ZX98YW76", Amount: 5000, BatchID: id, CreatedAt: created},
		},
	}
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-count", "3", "-amount", "250", "-format", "yaml"})
	require.NoError(t, err)
	assert.Equal(t, 3, o.count)
	assert.Equal(t, int64(250), o.amount)
	assert.Equal(t, "yaml", o.format)

	_, err = parseFlags([]string{"-count", "0", "-amount", "250"})
	assert.ErrorContains(t, err, "Count is required")

	_, err = parseFlags([]string{"-count", "1", "-amount", "-5"})
	assert.ErrorContains(t, err, "Amount must be at least 1")

	_, err = parseFlags([]string{"-count", "1", "-amount", "5", "-format", "xml"})
	assert.ErrorContains(t, err, "unknown format")
}

func TestWriteBatchCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBatch(&buf, "csv", sampleBatch()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"code", "amount", "batch_id"}, rows[0])
	assert.Equal(t, []string{"AB12CD34", "5000", "5b0f2f55-6a43-4b3c-9d0e-0f3b1c2d4e5f"}, rows[1])
}

func TestWriteBatchJSONAndYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBatch(&buf, "json", sampleBatch()))

	var doc batchDoc
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.Count)
	assert.Equal(t, []string{"AB12CD34", "ZX98YW76"}, doc.Codes)
	assert.Equal(t, "2024-03-01T10:00:00Z", doc.Created)

	buf.Reset()
	require.NoError(t, writeBatch(&buf, "yaml", sampleBatch()))
	var ydoc batchDoc
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &ydoc))
	assert.Equal(t, doc, ydoc)
	assert.True(t, strings.HasPrefix(buf.String(), "batch_id: 5b0f2f55"))
}

func TestRunDryRun(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-count", "4", "-amount", "1000", "-format", "json", "-dry-run"}, &buf))

	var doc batchDoc
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Codes, 4)
	for _, c := range doc.Codes {
		assert.True(t, chargecode.ValidFormat(c), c)
	}
}

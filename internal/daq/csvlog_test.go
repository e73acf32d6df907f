package daq

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVLog_WriteAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cl, err := NewCSVLog("tower-a", dir)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0).UTC()
	stats := []StatRow{
		{Timestamp: ts, Channel: 0, AccMax: 1.5, AccMin: -1.25, AccRMS: 0.75},
		{Timestamp: ts, Channel: 1, AccMax: 2.5, AccMin: -2.0, AccRMS: 1.1},
	}
	fatigue := FatigueRow{Timestamp: ts, Dmax: 1.23e-6, PhiDeg: 90, SaMax: 12.5}

	require.NoError(t, cl.WriteWindow(stats, fatigue))
	require.NoError(t, cl.Close())

	name := ts.Format("20060102") + ".csv"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + 2 stat + 1 fatigue
	assert.Equal(t, csvHeader, rows[0])

	assert.Equal(t, "stat", rows[1][2])
	assert.Equal(t, "0", rows[1][3])
	gotMax, err := strconv.ParseFloat(rows[1][4], 64)
	require.NoError(t, err)
	assert.Equal(t, 1.5, gotMax)

	assert.Equal(t, "fatigue", rows[3][2])
	gotDmax, err := strconv.ParseFloat(rows[3][10], 64)
	require.NoError(t, err)
	assert.Equal(t, 1.23e-6, gotDmax)
}

func TestCSVLog_HeaderWrittenOncePerFile(t *testing.T) {
	dir := t.TempDir()
	cl, err := NewCSVLog("tower-a", dir)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0).UTC()
	fatigue := FatigueRow{Timestamp: ts}
	require.NoError(t, cl.WriteWindow(nil, fatigue))
	require.NoError(t, cl.WriteWindow(nil, fatigue))
	require.NoError(t, cl.Close())

	name := ts.Format("20060102") + ".csv"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	// header + 2 fatigue rows, header appears exactly once
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
}


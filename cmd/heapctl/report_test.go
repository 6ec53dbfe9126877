package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportSummary struct {
	Allocated int `json:"allocated"`
	Small     []struct {
		Used int `json:"used"`
	} `json:"small"`
	General []struct {
		Allocated int `json:"allocated"`
		Spans     []struct {
			Free   bool   `json:"free"`
			Origin string `json:"origin"`
		} `json:"spans"`
	} `json:"general"`
}

func Test_Populate(t *testing.T) {
	a := testAllocator(t)
	live, err := populate(a, 30, 5)
	require.NoError(t, err)
	assert.Equal(t, 20, live)
	require.NoError(t, a.VerifyBlocks())
}

func Test_WriteReport_Populated(t *testing.T) {
	useFlags(t, false)
	cfg, err := loadConfig()
	require.NoError(t, err)
	cfg.TrackAllocations = true
	cfg.InitialSize = 256 << 10

	a := testAllocatorWith(t, cfg)
	_, err = populate(a, 40, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeReport(a, &buf))
	assertJSON(t, buf.String())

	var doc reportSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, a.GetTotalAllocatedSize(), doc.Allocated)

	total := 0
	for _, s := range doc.Small {
		total += s.Used
	}
	for _, g := range doc.General {
		total += g.Allocated
		for _, sp := range g.Spans {
			if !sp.Free {
				assert.Contains(t, sp.Origin, "report.go:")
			}
		}
	}
	assert.Equal(t, doc.Allocated, total)
}

func Test_ReportCommand_File(t *testing.T) {
	useFlags(t, false)
	savedAllocs, savedSeed, savedOut := reportAllocs, reportSeed, reportOut
	t.Cleanup(func() { reportAllocs, reportSeed, reportOut = savedAllocs, savedSeed, savedOut })

	reportAllocs, reportSeed = 12, 4
	reportOut = filepath.Join(t.TempDir(), "heap.json")

	out, err := captureOutput(t, runReport)
	require.NoError(t, err)
	assertContains(t, out, []string{"Report written to"})

	data, err := os.ReadFile(reportOut)
	require.NoError(t, err)
	assertJSON(t, string(data))
}

func Test_ReportCommand_Stdout(t *testing.T) {
	useFlags(t, false)
	savedAllocs, savedOut := reportAllocs, reportOut
	t.Cleanup(func() { reportAllocs, reportOut = savedAllocs, savedOut })
	reportAllocs, reportOut = 64, ""

	out, err := captureOutput(t, runReport)
	require.NoError(t, err)
	assertJSON(t, out)
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// useFlags sets the global flags for one test and restores them afterwards.
func useFlags(t *testing.T, json bool) {
	t.Helper()
	saved := struct {
		verbose, quiet, json bool
		config, backend      string
	}{verbose, quiet, jsonOut, configPath, backend}
	t.Cleanup(func() {
		verbose, quiet, jsonOut = saved.verbose, saved.quiet, saved.json
		configPath, backend = saved.config, saved.backend
	})
	verbose, quiet, jsonOut = false, false, json
	configPath, backend = "", "go"
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	// Drain the pipe while fn runs so large outputs cannot block it.
	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	out := <-done
	r.Close()

	return string(out), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGCRemovesStrandedTempEntries(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "gc-test", "data")
	metadataDir := filepath.Join(root, "gc-test", "metadata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	strandedData := filepath.Join(dataDir, "3_temp")
	if err := os.Mkdir(strandedData, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	strandedMeta := filepath.Join(metadataDir, "3_temp.json")
	if err := os.WriteFile(strandedMeta, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	keptData := filepath.Join(dataDir, "3.json")
	if err := os.WriteFile(keptData, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	logger := zerolog.Nop()
	cmd := newGCCmd(&logger)
	cmd.SetArgs([]string{root, "gc-test"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(strandedData); !os.IsNotExist(err) {
		t.Fatalf("expected stranded data dir to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(strandedMeta); !os.IsNotExist(err) {
		t.Fatalf("expected stranded metadata file to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(keptData); err != nil {
		t.Fatalf("expected the non-temp entry to survive: %v", err)
	}
	if !strings.Contains(out.String(), "removed 2 stranded entries") {
		t.Fatalf("expected a removal count in output, got: %s", out.String())
	}
}

func TestGCDryRunDoesNotRemove(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "gc-dry", "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stranded := filepath.Join(dataDir, "1_temp")
	if err := os.Mkdir(stranded, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	logger := zerolog.Nop()
	cmd := newGCCmd(&logger)
	cmd.SetArgs([]string{root, "gc-dry", "--dry-run"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(stranded); err != nil {
		t.Fatalf("expected dry-run to leave the stranded entry in place: %v", err)
	}
	if !strings.Contains(out.String(), "would remove") {
		t.Fatalf("expected a would-remove message, got: %s", out.String())
	}
}

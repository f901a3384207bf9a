package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCredentialScrubbing(t *testing.T) {
	logger, err := NewTraceLogger(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "SECRET_KEY",
			input:    "SECRET_KEY=0x59c6995e998f97a5a0044966f094",
			expected: "[REDACTED]",
		},
		{
			name:     "PRIVATE_KEY",
			input:    "PRIVATE_KEY=pk_1234567890",
			expected: "[REDACTED]",
		},
		{
			name:     "MNEMONIC",
			input:    "MNEMONIC=abandon",
			expected: "[REDACTED]",
		},
		{
			name:     "API_KEY",
			input:    "API_KEY=sk-1234567890abcdef",
			expected: "[REDACTED]",
		},
		{
			name:     "token",
			input:    "token:ghp_1234567890abcdef",
			expected: "[REDACTED]",
		},
		{
			name:     "case insensitive",
			input:    "secret_key=0xdeadbeef",
			expected: "[REDACTED]",
		},
		{
			name:     "no credential",
			input:    "normal_string",
			expected: "normal_string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := logger.scrub(tt.input)
			if result != tt.expected {
				t.Errorf("scrub(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogFileCreation(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewTraceLogger(baseDir)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	traceDir := filepath.Join(baseDir, ".quill", "traces")
	files, err := os.ReadDir(traceDir)
	if err != nil {
		t.Fatalf("failed to read trace directory: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no trace file created")
	}

	traceFile := files[0]
	if !strings.HasPrefix(traceFile.Name(), "trace-") || !strings.HasSuffix(traceFile.Name(), ".log") {
		t.Errorf("unexpected trace file name: %s", traceFile.Name())
	}

	if err := logger.LogPass("run-001", "commands", "pass 1"); err != nil {
		t.Errorf("LogPass failed: %v", err)
	}
	if err := logger.LogSignerOp("run-001", "alice", "check_activability", "pending"); err != nil {
		t.Errorf("LogSignerOp failed: %v", err)
	}
	if err := logger.LogCommand("run-001", "action.transfer", "perform_execution", "ok"); err != nil {
		t.Errorf("LogCommand failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(traceDir, traceFile.Name()))
	if err != nil {
		t.Fatalf("failed to read trace file: %v", err)
	}

	contentStr := string(content)
	for _, marker := range []string{"[PASS]", "[SIGNER]", "[COMMAND]", "run=run-001", "signer=alice"} {
		if !strings.Contains(contentStr, marker) {
			t.Errorf("trace file missing %s marker", marker)
		}
	}

	logger.Close()
}

func TestClose(t *testing.T) {
	logger, err := NewTraceLogger(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := logger.LogPass("run-001", "commands", "after close"); err == nil {
		t.Error("LogPass should fail after Close")
	}
}

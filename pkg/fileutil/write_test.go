package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.ttml")

	if err := WriteFileOverwrite(path, []byte("first version"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := WriteFileOverwrite(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected truncated overwrite, got %q", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

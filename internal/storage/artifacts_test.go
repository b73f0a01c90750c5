package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	path := ArtifactPath("EXP-2025-0042", uuid.New(), strings.Repeat("ab", 32))
	data := []byte("RULING — the court resolves to dismiss the motion.")

	if err := store.Write(ctx, path, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("read back %q, want %q", got, data)
	}
}

func TestFileStoreReadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if _, err := store.Read(context.Background(), "cases/none/decisions/x/y.txt"); err == nil {
		t.Error("reading a missing artifact must fail")
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)

	path := ArtifactPath("C-1", uuid.New(), strings.Repeat("cd", 32))
	if err := store.Write(context.Background(), path, []byte("content")); err != nil {
		t.Fatal(err)
	}

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasPrefix(info.Name(), ".artifact-") {
			t.Errorf("leftover temp file %s", p)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestArtifactPathSanitizesCaseRef(t *testing.T) {
	p := ArtifactPath("../../etc/passwd", uuid.Nil, "deadbeef")
	if strings.Contains(p, "..") {
		t.Errorf("case ref not sanitized: %s", p)
	}
}

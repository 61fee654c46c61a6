package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/contractrpc/internal/testutil/testlog"
)

func TestTwoInts(t *testing.T) {
	testlog.Start(t)
	a, b, err := twoInts([]string{"17", "-5"})
	if err != nil || a != 17 || b != -5 {
		t.Fatalf("twoInts = %d %d %v", a, b, err)
	}
	if _, _, err := twoInts([]string{"1"}); err == nil {
		t.Fatalf("expected arity error")
	}
	if _, _, err := twoInts([]string{"1", "x"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestReadFilesDetectsContentType(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	raw := filepath.Join(dir, "blob")
	if err := os.WriteFile(txt, []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(raw, []byte{1, 2}, 0o600); err != nil {
		t.Fatal(err)
	}
	files, err := readFiles([]string{txt, raw})
	if err != nil {
		t.Fatalf("readFiles: %v", err)
	}
	if files[0].Name != "notes.txt" || files[0].ContentType != "text/plain; charset=utf-8" {
		t.Fatalf("txt = %+v", files[0])
	}
	if files[1].ContentType != "application/octet-stream" || len(files[1].Data) != 2 {
		t.Fatalf("blob = %+v", files[1])
	}
	if _, err := readFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected missing file error")
	}
}

package modelstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oriys/strix/internal/fault"
)

func writeWeights(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportAssignsContentID(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "models"))
	if err != nil {
		t.Fatal(err)
	}

	src := writeWeights(t, dir, "best.pt", 1024)
	info, err := s.Import(src, "greenhouse v2", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(info.ID, "custom_") || len(info.ID) != len("custom_")+12 {
		t.Fatalf("id = %q", info.ID)
	}
	if !info.Downloaded {
		t.Fatal("imported model should be marked downloaded")
	}

	// Re-importing identical content is idempotent.
	again, err := s.Import(src, "other name", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != info.ID || again.Name != "greenhouse v2" {
		t.Fatalf("re-import: %+v", again)
	}
}

func TestImportValidation(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(filepath.Join(dir, "models"))

	badExt := writeWeights(t, dir, "weights.zip", 10)
	if _, err := s.Import(badExt, "", ""); err == nil {
		t.Fatal("zip extension should be rejected")
	}

	empty := writeWeights(t, dir, "empty.pt", 0)
	_, err := s.Import(empty, "", "")
	if fe := fault.As(err); fe == nil || fe.Code != fault.CodeInvalidParam {
		t.Fatalf("empty file: err = %v", err)
	}

	if _, err := s.Import(filepath.Join(dir, "nope.pt"), "", ""); err == nil {
		t.Fatal("missing file should be rejected")
	}
}

func TestListIncludesBuiltinsFirst(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	models := s.List()
	if len(models) != 3 {
		t.Fatalf("fresh store lists %d models, want 3 builtins", len(models))
	}
	for _, m := range models {
		if !m.Builtin || m.Downloaded {
			t.Fatalf("builtin state: %+v", m)
		}
	}

	// Dropping the weights file in place flips the downloaded flag.
	writeWeights(t, dir, "yolov8n.pt", 100)
	for _, m := range s.List() {
		if m.ID == "yolov8n" && !m.Downloaded {
			t.Fatal("yolov8n should be downloaded")
		}
	}
}

func TestDeleteCustomOnly(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(filepath.Join(dir, "models"))

	if err := s.Delete("yolov8n"); err == nil {
		t.Fatal("builtin delete must fail")
	}

	src := writeWeights(t, dir, "m.onnx", 64)
	info, _ := s.Import(src, "m", "")
	if err := s.Delete(info.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(info.ID); err == nil {
		t.Fatal("deleted model still resolvable")
	}
	if len(s.List()) != 3 {
		t.Fatal("custom model should be gone from list")
	}
}

func TestSelectPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	s, _ := New(dir)
	if err := s.Select("yolov8s"); err != nil {
		t.Fatal(err)
	}
	if err := s.Select("missing"); err == nil {
		t.Fatal("selecting an unknown model must fail")
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Selected(); got != "yolov8s" {
		t.Fatalf("selected after reopen = %q", got)
	}
}

func TestMetadataSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "models")
	s, _ := New(dir)
	src := writeWeights(t, base, "field.pt", 256)
	info, _ := s.Import(src, "field trial", "spring batch")

	reopened, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "field trial" || got.Description != "spring batch" || !got.Downloaded {
		t.Fatalf("reopened metadata: %+v", got)
	}
}

func TestDownloadRejectsUnknownAndCustom(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "models"))
	if _, err := s.Download(context.Background(), "nope"); err == nil {
		t.Fatal("download of unknown model should fail")
	}
	if _, err := s.Download(context.Background(), "custom_abcdef012345"); err == nil {
		t.Fatal("download of a custom id should fail")
	}
}

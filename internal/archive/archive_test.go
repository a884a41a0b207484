package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/scenario"
	"github.com/nvandessel/meccsim/internal/store"
)

func testRun(t *testing.T) *store.Run {
	t.Helper()
	cfg := scenario.Smoking()
	table, err := engine.Simulate(context.Background(), cfg, 5, nil, nil)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	return store.NewRun("archive-test", cfg, table)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	run := testRun(t)
	path := filepath.Join(t.TempDir(), "run"+FileExt)

	header, err := Write(path, run)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if header.RunID != run.ID {
		t.Errorf("header.RunID = %q, want %q", header.RunID, run.ID)
	}
	if header.Rows != run.Table.Len() {
		t.Errorf("header.Rows = %d, want %d", header.Rows, run.Table.Len())
	}
	if !strings.HasPrefix(header.Checksum, "sha256:") {
		t.Errorf("header.Checksum = %q, want sha256 prefix", header.Checksum)
	}

	got, gotHeader, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if gotHeader.Checksum != header.Checksum {
		t.Errorf("read checksum = %q, want %q", gotHeader.Checksum, header.Checksum)
	}
	if got.ID != run.ID || got.Seed != run.Seed || got.Population != run.Population {
		t.Errorf("Read() run = %+v, want %+v", got, run)
	}
	if got.Table.Len() != run.Table.Len() {
		t.Fatalf("table rows = %d, want %d", got.Table.Len(), run.Table.Len())
	}
	last, _ := got.Table.Last()
	wantLast, _ := run.Table.Last()
	if !last.Final || last.Interventions != wantLast.Interventions {
		t.Errorf("last row = %+v, want %+v", last, wantLast)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}
}

func TestWrite_RequiresTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run"+FileExt)
	if _, err := Write(path, &store.Run{ID: "x"}); err == nil {
		t.Error("Write() without table should fail")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	run := testRun(t)
	path := filepath.Join(t.TempDir(), "run"+FileExt)
	if _, err := Write(path, run); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(path); err != nil {
		t.Fatalf("Verify() on intact archive error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(path); !errors.Is(err, ErrChecksum) {
		t.Errorf("Verify() error = %v, want ErrChecksum", err)
	}
	if _, _, err := Read(path); !errors.Is(err, ErrChecksum) {
		t.Errorf("Read() error = %v, want ErrChecksum", err)
	}
}

func TestReadHeader_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+FileExt)
	content := `{"version":99,"codec":"zstd","checksum":"sha256:00"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Error("ReadHeader() should reject unknown version")
	}
}

func TestGeneratePath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := GeneratePath("/tmp/a", "0123456789abcdef", now)
	want := filepath.Join("/tmp/a", "meccsim-run-20260304-050607-01234567.mrun.zst")
	if got != want {
		t.Errorf("GeneratePath() = %q, want %q", got, want)
	}
}

func TestCreateRestore(t *testing.T) {
	ctx := context.Background()
	src := store.NewInMemoryRunStore()
	run := testRun(t)
	id, err := src.SaveRun(ctx, run)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path, header, err := Create(ctx, src, id[:8], dir)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if header.RunID != id {
		t.Errorf("header.RunID = %q, want %q", header.RunID, id)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("archive written to %q, want dir %q", path, dir)
	}

	dst := store.NewInMemoryRunStore()
	gotID, skipped, err := Restore(ctx, dst, path)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if skipped || gotID != id {
		t.Errorf("Restore() = (%q, %v), want (%q, false)", gotID, skipped, id)
	}
	restored, err := dst.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() after restore error = %v", err)
	}
	if restored.Table.Len() != run.Table.Len() {
		t.Errorf("restored rows = %d, want %d", restored.Table.Len(), run.Table.Len())
	}

	_, skipped, err = Restore(ctx, dst, path)
	if err != nil {
		t.Fatalf("second Restore() error = %v", err)
	}
	if !skipped {
		t.Error("second Restore() should skip the existing run")
	}
}

func TestCreate_UnknownRun(t *testing.T) {
	_, _, err := Create(context.Background(), store.NewInMemoryRunStore(), "deadbeef", t.TempDir())
	if !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("Create() error = %v, want ErrRunNotFound", err)
	}
}

package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGuard_Check(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()

	subDir := filepath.Join(allowedDir, "subdir")
	if err := os.MkdirAll(subDir, 0700); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		dirs        []string
		wantErr     bool
		errContains string
	}{
		{"inside allowed dir", filepath.Join(allowedDir, "run.mrun.zst"), []string{allowedDir}, false, ""},
		{"in subdirectory", filepath.Join(subDir, "run.mrun.zst"), []string{allowedDir}, false, ""},
		{"missing nested dirs", filepath.Join(allowedDir, "a", "b", "run.mrun.zst"), []string{allowedDir}, false, ""},
		{"exactly the allowed dir", allowedDir, []string{allowedDir}, false, ""},
		{"traversal with dot-dot", filepath.Join(allowedDir, "..", "etc", "passwd"), []string{allowedDir}, true, "outside allowed directories"},
		{"embedded dot-dot", filepath.Join(allowedDir, "subdir", "..", "..", "etc", "passwd"), []string{allowedDir}, true, "outside allowed directories"},
		{"outside allowed dir", filepath.Join(otherDir, "run.mrun.zst"), []string{allowedDir}, true, "outside allowed directories"},
		{"sibling with common prefix", allowedDir + "x/run.mrun.zst", []string{allowedDir}, true, "outside allowed directories"},
		{"null byte", filepath.Join(allowedDir, "ru\x00n"), []string{allowedDir}, true, "null byte"},
		{"empty path", "", []string{allowedDir}, true, "empty"},
		{"no allowed dirs", filepath.Join(allowedDir, "run"), nil, true, "no allowed directories"},
		{"empty dirs ignored", filepath.Join(allowedDir, "run"), []string{"", ""}, true, "no allowed directories"},
		{"matches second dir", filepath.Join(otherDir, "run"), []string{allowedDir, otherDir}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard(tt.dirs...).Check(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Check() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestGuard_CheckReturnsResolvedPath(t *testing.T) {
	dir := t.TempDir()
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	got, err := NewGuard(dir).Check(filepath.Join(dir, "x", "..", "run.mrun.zst"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got != filepath.Join(want, "run.mrun.zst") {
		t.Errorf("Check() = %q, want %q", got, filepath.Join(want, "run.mrun.zst"))
	}
}

func TestGuard_SymlinkOutside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	link := filepath.Join(allowedDir, "escape")
	if err := os.Symlink(outsideDir, link); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	_, err := NewGuard(allowedDir).Check(filepath.Join(link, "run.mrun.zst"))
	if !errors.Is(err, ErrOutside) {
		t.Errorf("Check() error = %v, want ErrOutside", err)
	}
}

func TestGuard_SymlinkInside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	real := filepath.Join(allowedDir, "real")
	if err := os.MkdirAll(real, 0700); err != nil {
		t.Fatalf("failed to create real subdir: %v", err)
	}
	link := filepath.Join(allowedDir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	if _, err := NewGuard(allowedDir).Check(filepath.Join(link, "run.mrun.zst")); err != nil {
		t.Errorf("Check() should accept a symlink staying inside, got: %v", err)
	}
}

func TestArchiveGuard(t *testing.T) {
	archiveDir := t.TempDir()
	dataDir := t.TempDir()

	g, err := ArchiveGuard(archiveDir, dataDir)
	if err != nil {
		t.Fatalf("ArchiveGuard() error = %v", err)
	}
	cwd, _ := os.Getwd()
	dirs := g.Dirs()
	if len(dirs) != 3 || dirs[0] != archiveDir || dirs[1] != dataDir || dirs[2] != cwd {
		t.Errorf("Dirs() = %v", dirs)
	}
	if _, err := g.Check(filepath.Join(cwd, "local.mrun.zst")); err != nil {
		t.Errorf("working directory should be allowed: %v", err)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"simple", "/home/user/.meccsim/config.yaml", ".../.meccsim/config.yaml"},
		{"deep", "/a/b/c/d/e.txt", ".../d/e.txt"},
		{"root file", "/file.txt", "file.txt"},
		{"relative", "dir/file.txt", ".../dir/file.txt"},
		{"just filename", "file.txt", "file.txt"},
		{"trailing slash cleaned", "/home/user/.meccsim/", ".../user/.meccsim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactPath(tt.input); got != tt.want {
				t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

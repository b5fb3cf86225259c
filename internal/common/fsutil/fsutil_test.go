package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	for in, want := range map[string]string{
		"":           "",
		"/tmp":       "/tmp",
		"~":          home,
		"~/assets":   filepath.Join(home, "assets"),
		"rel/assets": "rel/assets",
	} {
		got, err := ExpandHome(in)
		if err != nil || got != want {
			t.Fatalf("ExpandHome(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestJoinUnder(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		rel  string
		want string
	}{
		{"avatar-high.glb", filepath.Join(root, "avatar-high.glb")},
		{"/models/avatar-high.glb", filepath.Join(root, "models", "avatar-high.glb")},
		{"models/../avatar.glb", filepath.Join(root, "avatar.glb")},
	}
	for _, tc := range cases {
		got, err := JoinUnder(root, tc.rel)
		if err != nil || got != tc.want {
			t.Fatalf("JoinUnder(%q) = %q, %v; want %q", tc.rel, got, err, tc.want)
		}
	}
	for _, rel := range []string{"../secret.glb", "models/../../secret.glb", "/../x"} {
		if _, err := JoinUnder(root, rel); !errors.Is(err, ErrOutsideRoot) {
			t.Fatalf("JoinUnder(%q) should be rejected, got %v", rel, err)
		}
	}
	if _, err := JoinUnder("", "a.glb"); err == nil {
		t.Fatalf("empty root should fail")
	}
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.glb")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !DirExists(dir) || DirExists(f) || DirExists(filepath.Join(dir, "missing")) {
		t.Fatalf("DirExists misreports")
	}
}

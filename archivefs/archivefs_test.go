package archivefs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parapack/parapack/archive"
	"github.com/parapack/parapack/posixfs/osfs"
)

// buildArchive packs srcDir (created under t.TempDir()) into an uncompressed
// archive file and returns its path. archivefs needs a real seekable file,
// unlike archive package's own tests which can round-trip through a
// bytes.Buffer.
func buildArchive(t *testing.T, srcDir string) string {
	t.Helper()
	archivePath := filepath.Join(t.TempDir(), "out.parapack")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	p, err := archive.NewPacker(osfs.New(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Pack(context.Background(), f, []string{srcDir}); err != nil {
		t.Fatalf("Pack: %s", err)
	}
	return archivePath
}

func TestBuildAndList(t *testing.T) {
	root := t.TempDir()
	tree := filepath.Join(root, "tree")
	mustOS(t, os.Mkdir(tree, 0o755))
	mustOS(t, os.Mkdir(filepath.Join(tree, "sub"), 0o755))
	mustOS(t, os.WriteFile(filepath.Join(tree, "sub", "leaf.txt"), []byte("leaf"), 0o644))
	mustOS(t, os.WriteFile(filepath.Join(tree, "top.txt"), []byte("top"), 0o644))

	archivePath := buildArchive(t, tree)

	idx, err := Build(archivePath)
	if err != nil {
		t.Fatalf("Build: %s", err)
	}

	treeName := filepath.Base(tree)
	names, err := idx.List(treeName)
	if err != nil {
		t.Fatalf("List(%q): %s", treeName, err)
	}
	want := map[string]bool{"sub": true, "top.txt": true}
	if len(names) != len(want) {
		t.Fatalf("List(%q) = %v, want keys of %v", treeName, names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected entry %q in %q", n, treeName)
		}
	}
}

func TestBuildAndOpen(t *testing.T) {
	root := t.TempDir()
	tree := filepath.Join(root, "tree")
	mustOS(t, os.Mkdir(tree, 0o755))
	mustOS(t, os.WriteFile(filepath.Join(tree, "a.txt"), []byte("file content here"), 0o644))

	archivePath := buildArchive(t, tree)
	idx, err := Build(archivePath)
	if err != nil {
		t.Fatalf("Build: %s", err)
	}

	rc, err := idx.Open(filepath.Base(tree) + "/a.txt")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "file content here" {
		t.Errorf("Open content = %q, want %q", got, "file content here")
	}
}

func TestCounts(t *testing.T) {
	root := t.TempDir()
	tree := filepath.Join(root, "tree")
	mustOS(t, os.Mkdir(tree, 0o755))
	mustOS(t, os.Mkdir(filepath.Join(tree, "sub"), 0o755))
	mustOS(t, os.WriteFile(filepath.Join(tree, "sub", "a.txt"), []byte("a"), 0o644))
	mustOS(t, os.WriteFile(filepath.Join(tree, "b.txt"), []byte("b"), 0o644))

	archivePath := buildArchive(t, tree)
	idx, err := Build(archivePath)
	if err != nil {
		t.Fatalf("Build: %s", err)
	}

	dirs, files, hardlinks, other := idx.Counts()
	// root + tree + sub = 3 directories, 2 regular files, no hardlinks/other.
	if dirs != 3 || files != 2 || hardlinks != 0 || other != 0 {
		t.Errorf("Counts() = (%d, %d, %d, %d), want (3, 2, 0, 0)", dirs, files, hardlinks, other)
	}
}

func mustOS(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

package archive

import (
	"testing"

	"github.com/parapack/parapack/posixfs"
	"github.com/parapack/parapack/posixfs/memfs"
)

func TestPathLessPostOrder(t *testing.T) {
	cases := []struct {
		a, b  string
		aLess bool
	}{
		{"root", "root/child", false}, // child must come first, so "root" is NOT less
		{"root/child", "root", true},
		{"root/a", "root/b", true},
		{"root/a", "root/ab", false}, // a string prefix sorts after its extension, component boundary or not
	}
	for _, c := range cases {
		if got := pathLess(c.a, c.b); got != c.aLess {
			t.Errorf("pathLess(%q, %q) = %v, want %v", c.a, c.b, got, c.aLess)
		}
	}
}

func TestBuildMergeOrderIsPostOrder(t *testing.T) {
	fs := memfs.New()
	must(t, fs.CreateDirectory("root", 0o755))
	must(t, fs.CreateDirectory("root/sub", 0o755))
	writeFile(t, fs, "root/sub/leaf.txt", []byte("leaf"))
	writeFile(t, fs, "root/top.txt", []byte("top"))

	entries, err := buildMergeOrder(fs, []string{"root"})
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int)
	for i, e := range entries {
		pos[e.archivePath] = i
	}

	if pos["root/sub/leaf.txt"] >= pos["root/sub"] {
		t.Errorf("leaf.txt must precede its parent directory root/sub")
	}
	if pos["root/sub"] >= pos["root"] {
		t.Errorf("root/sub must precede the top-level root")
	}
	if pos["root/top.txt"] >= pos["root"] {
		t.Errorf("root/top.txt must precede root")
	}
	if pos["root"] != len(entries)-1 {
		t.Errorf("root must be the last entry emitted, got position %d of %d", pos["root"], len(entries))
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, fs posixfs.FS, path string, data []byte) {
	t.Helper()
	wc, err := fs.CreateFile(path, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}
}

package archive

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/parapack/parapack/posixfs/memfs"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	src := memfs.New()
	must(t, src.CreateDirectory("tree", 0o755))
	must(t, src.CreateDirectory("tree/sub", 0o755))
	writeFile(t, src, "tree/sub/a.txt", []byte("hello"))
	writeFile(t, src, "tree/b.txt", bytes.Repeat([]byte("x"), 70000)) // forces multiple data chunks
	must(t, src.Symlink("sub/a.txt", "tree/link"))

	p, err := NewPacker(src)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := p.Pack(context.Background(), &buf, []string{"tree"}); err != nil {
		t.Fatalf("Pack: %s", err)
	}

	dst := memfs.New()
	u, err := NewUnpacker(dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Unpack(context.Background(), &buf, ""); err != nil {
		t.Fatalf("Unpack: %s", err)
	}

	assertFileContent(t, dst, "tree/sub/a.txt", "hello")
	assertFileContent(t, dst, "tree/b.txt", string(bytes.Repeat([]byte("x"), 70000)))

	target, err := dst.ReadLink("tree/link")
	if err != nil {
		t.Fatalf("ReadLink: %s", err)
	}
	if target != "sub/a.txt" {
		t.Errorf("symlink target = %q, want %q", target, "sub/a.txt")
	}

	for _, dir := range []string{"tree", "tree/sub"} {
		st, err := dst.Stat(dir)
		if err != nil || !st.Exists {
			t.Fatalf("%s not recreated as a directory", dir)
		}
	}
}

func TestPackUnpackHardLinks(t *testing.T) {
	src := memfs.New()
	must(t, src.CreateDirectory("tree", 0o755))
	writeFile(t, src, "tree/first", []byte("shared content"))
	must(t, src.HardLink("tree/first", "tree/second"))
	must(t, src.HardLink("tree/first", "tree/third"))

	p, err := NewPacker(src)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := p.Pack(context.Background(), &buf, []string{"tree"}); err != nil {
		t.Fatalf("Pack: %s", err)
	}

	dst := memfs.New()
	u, err := NewUnpacker(dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Unpack(context.Background(), &buf, ""); err != nil {
		t.Fatalf("Unpack: %s", err)
	}

	for _, name := range []string{"tree/first", "tree/second", "tree/third"} {
		assertFileContent(t, dst, name, "shared content")
	}

	first, err := dst.Stat("tree/first")
	if err != nil {
		t.Fatal(err)
	}
	second, err := dst.Stat("tree/second")
	if err != nil {
		t.Fatal(err)
	}
	if first.Ino != second.Ino {
		t.Errorf("tree/first and tree/second were not recreated as hard links (different inodes)")
	}
}

func TestUnpackCollisionRequiresForce(t *testing.T) {
	src := memfs.New()
	must(t, src.CreateDirectory("tree", 0o755))
	writeFile(t, src, "tree/f", []byte("content"))

	p, _ := NewPacker(src)
	var buf bytes.Buffer
	must(t, p.Pack(context.Background(), &buf, []string{"tree"}))
	archiveBytes := buf.Bytes()

	dst := memfs.New()
	must(t, dst.CreateDirectory("tree", 0o755))
	writeFile(t, dst, "tree/f", []byte("preexisting"))

	u, _ := NewUnpacker(dst)
	if err := u.Unpack(context.Background(), bytes.NewReader(archiveBytes), ""); err == nil {
		t.Fatal("expected ErrCollision without -f, got nil")
	}

	uf, _ := NewUnpacker(dst, WithForce())
	if err := uf.Unpack(context.Background(), bytes.NewReader(archiveBytes), ""); err != nil {
		t.Fatalf("Unpack with WithForce: %s", err)
	}
	assertFileContent(t, dst, "tree/f", "content")
}

func assertFileContent(t *testing.T, fs interface {
	OpenFile(string) (io.ReadCloser, error)
}, path, want string) {
	t.Helper()
	rc, err := fs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile(%q): %s", path, err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll(%q): %s", path, err)
	}
	if string(got) != want {
		t.Errorf("%s content = %d bytes, want %d bytes matching expected content", path, len(got), len(want))
	}
}

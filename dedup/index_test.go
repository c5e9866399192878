package dedup

import (
	"bytes"
	"crypto/md5"
	"io"
	"path"
	"testing"

	"github.com/parapack/parapack/posixfs/memfs"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	// Each test gets a distinct root name: the hash-directory lock registry
	// is a process-wide singleton keyed by root (spec.md §4.3/§7 "Global
	// mutable state"), so reusing one name across tests would have them
	// contend over locks that were really meant to scope independent stores.
	idx, err := New(memfs.New(), "store-"+t.Name())
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestInsertDeduplicatesIdenticalContent(t *testing.T) {
	idx := newTestIndex(t)

	p1, err := idx.Insert(bytes.NewReader([]byte("hello world")), 11)
	if err != nil {
		t.Fatalf("first Insert: %s", err)
	}
	p2, err := idx.Insert(bytes.NewReader([]byte("hello world")), 11)
	if err != nil {
		t.Fatalf("second Insert: %s", err)
	}
	if p1 != p2 {
		t.Errorf("identical content hashed to different chunk paths: %q vs %q", p1, p2)
	}

	rc, err := idx.fs.OpenFile(p1)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("stored content = %q, want %q", got, "hello world")
	}
}

func TestInsertDistinctContentDistinctPaths(t *testing.T) {
	idx := newTestIndex(t)

	p1, err := idx.Insert(bytes.NewReader([]byte("content A")), 9)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := idx.Insert(bytes.NewReader([]byte("content B, different")), 20)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Errorf("distinct content hashed to the same chunk path %q", p1)
	}
}

// TestInsertHandlesHashCollision exercises the case spec.md describes as two
// different contents sharing one MD5: since a real MD5 collision can't be
// produced in a test, this plants a chunk file at content A's expected
// filename but with content A's bytes replaced by something else first, so
// Insert(A) finds a same-(rem28,length) candidate whose bytes don't match
// and must open a second collision group rather than treating it as a hit.
func TestInsertHandlesHashCollision(t *testing.T) {
	idx := newTestIndex(t)

	contentA := []byte("the real content for group 0")
	sum := md5.Sum(contentA)
	first4 := first4hex(sum)
	rem28 := rem28hex(sum)

	dir := path.Join(idx.root, first4)
	must(t, idx.fs.CreateDirectory(dir, 0o755))
	decoy := chunkName{Rem28: rem28, Length: uint64(len(contentA)), Collision: 0, Link: 0}
	writeChunk(t, idx, path.Join(dir, decoy.String()), []byte("unrelated bytes, same length"))

	linkPath, err := idx.Insert(bytes.NewReader(contentA), int64(len(contentA)))
	if err != nil {
		t.Fatalf("Insert: %s", err)
	}

	cn, err := parseChunkName(path.Base(linkPath))
	if err != nil {
		t.Fatal(err)
	}
	if cn.Collision != 1 {
		t.Errorf("expected a second collision group (collision=1), got collision=%d", cn.Collision)
	}

	rc, err := idx.fs.OpenFile(linkPath)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, contentA) {
		t.Errorf("stored content = %q, want %q", got, contentA)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func writeChunk(t *testing.T, idx *Index, path string, data []byte) {
	t.Helper()
	wc, err := idx.fs.CreateFile(path, 0o644)
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

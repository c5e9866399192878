package dedup

import (
	"context"
	"path"
	"strings"
	"testing"
)

func TestParseFirst4hexRoundTrip(t *testing.T) {
	for _, want := range []uint16{0x0000, 0x00ff, 0xabcd, 0xffff} {
		prefix := first4hex([16]byte{byte(want >> 8), byte(want)})
		got, err := parseFirst4hex(prefix)
		if err != nil {
			t.Fatalf("parseFirst4hex(%q): %s", prefix, err)
		}
		if got != want {
			t.Errorf("parseFirst4hex(%q) = %#x, want %#x", prefix, got, want)
		}
	}
}

func TestParseFirst4hexRejectsMalformed(t *testing.T) {
	for _, prefix := range []string{"", "abc", "abcde", "zzzz", "ABCD"} {
		if _, err := parseFirst4hex(prefix); err == nil {
			t.Errorf("parseFirst4hex(%q): expected error, got none", prefix)
		}
	}
}

func TestVerifySweepsOrphans(t *testing.T) {
	idx := newTestIndex(t)

	linkPath, err := idx.Insert(strings.NewReader("chunk content"), 13)
	if err != nil {
		t.Fatal(err)
	}
	// No consumer ever hard-linked to it: Nlink stays 1, so Verify should
	// treat this chunk as an orphan and remove it.
	if st, err := idx.fs.Stat(linkPath); err != nil || st.Nlink != 1 {
		t.Fatalf("expected a fresh chunk with Nlink==1, got %+v (err %v)", st, err)
	}

	if err := idx.Verify(context.Background(), true); err != nil {
		t.Fatalf("Verify: %s", err)
	}

	if st, err := idx.fs.Stat(linkPath); err != nil {
		t.Fatal(err)
	} else if st.Exists {
		t.Errorf("orphaned chunk %q was not removed by Verify", linkPath)
	}
}

func TestVerifyKeepsReferencedChunks(t *testing.T) {
	idx := newTestIndex(t)

	linkPath, err := idx.Insert(strings.NewReader("kept content"), 12)
	if err != nil {
		t.Fatal(err)
	}
	must(t, idx.fs.HardLink(linkPath, "consumer-file"))

	if err := idx.Verify(context.Background(), true); err != nil {
		t.Fatalf("Verify: %s", err)
	}

	if st, err := idx.fs.Stat(linkPath); err != nil || !st.Exists {
		t.Errorf("referenced chunk %q was incorrectly removed by Verify", linkPath)
	}
}

func TestRenumberDirCompactsAfterDeletion(t *testing.T) {
	idx := newTestIndex(t)
	dir := path.Join(idx.root, "abcd")
	must(t, idx.fs.CreateDirectory(dir, 0o755))

	rem28 := "0123456789abcdef0123456789ab"
	names := []chunkName{
		{Rem28: rem28, Length: 100, Collision: 0, Link: 0},
		{Rem28: rem28, Length: 100, Collision: 2, Link: 0}, // gap at collision 1
		{Rem28: rem28, Length: 100, Collision: 2, Link: 5}, // gap at link 1..4
	}
	for _, cn := range names {
		writeChunk(t, idx, path.Join(dir, cn.String()), []byte("x"))
	}

	if err := idx.renumberDir(dir); err != nil {
		t.Fatalf("renumberDir: %s", err)
	}

	it, err := idx.fs.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var seen []chunkName
	for {
		de, err := it.Next()
		if err != nil {
			break
		}
		cn, perr := parseChunkName(de.Name)
		if perr != nil {
			continue
		}
		seen = append(seen, cn)
	}

	maxCollision := uint64(0)
	for _, cn := range seen {
		if cn.Collision > maxCollision {
			maxCollision = cn.Collision
		}
	}
	if maxCollision != 1 {
		t.Errorf("expected collision numbers compacted to 0..1, max seen = %d", maxCollision)
	}
}

package dedup

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/parapack/parapack/posixfs"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Verify walks every hash directory, deleting orphans (chunk files with no
// consumer references left) and, when quick is false, re-verifying a
// budgeted slice of the surviving chunks' content against their filename
// (spec.md §4.3). ctx is checked between files so long runs stay
// cancellable. Each hash directory's lock is held for that directory's
// whole sweep and renumbering; it is not released between files.
func (idx *Index) Verify(ctx context.Context, quick bool) error {
	it, err := idx.fs.List(idx.root)
	if err != nil {
		return err
	}
	defer it.Close()

	var hashDirs []string
	for {
		de, err := it.Next()
		if err != nil {
			break
		}
		if de.Name == tmpDirName || de.Stat.Kind != posixfs.Dir {
			continue
		}
		hashDirs = append(hashDirs, de.Name)
	}

	for _, prefix := range hashDirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.verifyHashDir(ctx, prefix, quick); err != nil {
			return fmt.Errorf("dedup: verifying hash directory %s: %w", prefix, err)
		}
	}
	return nil
}

func (idx *Index) verifyHashDir(ctx context.Context, prefix string, quick bool) error {
	hashIdx, err := parseFirst4hex(prefix)
	if err != nil {
		return nil // not a hash directory this index recognizes; leave it alone
	}
	lock, err := idx.lockHashDir(prefix, hashIdx)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	dir := path.Join(idx.root, prefix)
	anyLeft, err := idx.sweepOrphansAndCorruption(ctx, dir, quick)
	if err != nil {
		return err
	}
	if err := idx.renumberDir(dir); err != nil {
		return err
	}
	if !anyLeft {
		if err := idx.fs.Delete(path.Join(dir, lockFileName)); err != nil {
			return err
		}
		return idx.fs.Delete(dir)
	}
	return nil
}

// sweepOrphansAndCorruption deletes orphaned chunk files and, in
// non-quick mode, flags corrupted ones, returning whether any file (besides
// the lock) remains in dir afterward.
func (idx *Index) sweepOrphansAndCorruption(ctx context.Context, dir string, quick bool) (bool, error) {
	it, err := idx.fs.List(dir)
	if err != nil {
		return false, err
	}
	var names []string
	for {
		de, err := it.Next()
		if err != nil {
			break
		}
		if de.Name != lockFileName {
			names = append(names, de.Name)
		}
	}
	it.Close()

	anyLeft := false
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		full := path.Join(dir, name)
		cn, perr := parseChunkName(name)
		if perr != nil {
			anyLeft = true
			continue
		}
		st, err := idx.fs.Stat(full)
		if err != nil {
			return false, err
		}
		if !st.Exists {
			continue
		}
		if st.Nlink <= 1 {
			if err := idx.fs.Delete(full); err != nil {
				return false, err
			}
			continue
		}

		if !quick && !cn.Corrupt && dueForVerification(st.Mtime) {
			ok, err := idx.verifyContent(full, cn)
			if err != nil {
				return false, err
			}
			if !ok {
				cn.Corrupt = true
				if err := idx.fs.Rename(full, path.Join(dir, cn.String())); err != nil {
					return false, err
				}
			}
		}
		anyLeft = true
	}
	return anyLeft, nil
}

// dueForVerification staggers re-verification across roughly
// VerificationIntervalDays using the chunk's own mtime as the schedule
// seed, so repeated daily Verify calls inspect about one Nth of the store
// each time without needing separate "last verified" bookkeeping.
func dueForVerification(mtimeMs int64) bool {
	const dayMs = 24 * 60 * 60 * 1000
	mtimeDay := (mtimeMs / dayMs) % VerificationIntervalDays
	todayDay := (nowMs() / dayMs) % VerificationIntervalDays
	return mtimeDay == todayDay
}

func (idx *Index) verifyContent(full string, cn chunkName) (bool, error) {
	rc, err := idx.fs.OpenFile(full)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	var r io.Reader = rc
	var gz *gzip.Reader
	if cn.Gzip {
		gz, err = gzip.NewReader(rc)
		if err != nil {
			return false, nil // unreadable gzip stream counts as corrupt, not a hard error
		}
		defer gz.Close()
		r = gz
	}

	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return false, nil
	}
	if uint64(n) != cn.Length {
		return false, nil
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return rem28hex(sum) == cn.Rem28, nil
}

// renumberDir compacts collision# and link# numbering within dir back to a
// dense 0..k-1 range per family, after any deletions this pass made
// (spec.md §4.3 "Renumbering").
func (idx *Index) renumberDir(dir string) error {
	it, err := idx.fs.List(dir)
	if err != nil {
		return err
	}
	type entry struct {
		name string
		cn   chunkName
	}
	var all []entry
	for {
		de, err := it.Next()
		if err != nil {
			break
		}
		if de.Name == lockFileName {
			continue
		}
		cn, perr := parseChunkName(de.Name)
		if perr != nil {
			continue
		}
		all = append(all, entry{name: de.Name, cn: cn})
	}
	it.Close()

	families := make(map[string][]entry)
	famKey := func(cn chunkName) string { return fmt.Sprintf("%s-%x", cn.Rem28, cn.Length) }
	for _, e := range all {
		k := famKey(e.cn)
		families[k] = append(families[k], e)
	}

	for _, fam := range families {
		byCollision := make(map[uint64][]entry)
		for _, e := range fam {
			byCollision[e.cn.Collision] = append(byCollision[e.cn.Collision], e)
		}
		collisions := make([]uint64, 0, len(byCollision))
		for c := range byCollision {
			collisions = append(collisions, c)
		}
		sort.Slice(collisions, func(i, j int) bool { return collisions[i] < collisions[j] })

		for newCollision, oldCollision := range collisions {
			group := byCollision[oldCollision]
			sort.Slice(group, func(i, j int) bool { return group[i].cn.Link < group[j].cn.Link })
			for newLink, e := range group {
				want := e.cn
				want.Collision = uint64(newCollision)
				want.Link = uint64(newLink)
				if want.String() == e.name {
					continue
				}
				oldPath := path.Join(dir, e.name)
				newPath := path.Join(dir, want.String())
				if err := idx.fs.Rename(oldPath, newPath); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func parseFirst4hex(prefix string) (uint16, error) {
	if len(prefix) != 4 || !isLowerHex(prefix) {
		return 0, ErrMalformedName
	}
	v, err := strconv.ParseUint(prefix, 16, 16)
	if err != nil {
		return 0, ErrMalformedName
	}
	return uint16(v), nil
}

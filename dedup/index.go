package dedup

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"

	"github.com/parapack/parapack/posixfs"
)

// Index is a content-addressed store of data chunks rooted at a directory,
// as specified in spec.md §4.3.
type Index struct {
	fs        posixfs.FS
	root      string
	blockSize int64
	tmpSeq    uint64 // accessed only via atomic.AddUint64: concurrent Inserts share one Index (spec.md §5)
}

// Option configures an Index.
type Option func(*Index)

// WithBlockSize overrides the filesystem block size used to decide whether
// a chunk is worth gzip-compressing. Default 4096.
func WithBlockSize(n int64) Option {
	return func(idx *Index) { idx.blockSize = n }
}

// New returns an Index rooted at root, creating it if necessary.
func New(fs posixfs.FS, root string, opts ...Option) (*Index, error) {
	idx := &Index{fs: fs, root: root, blockSize: defaultBlockSize}
	for _, opt := range opts {
		opt(idx)
	}
	if err := fs.CreateDirectory(root, 0o755); err != nil && err != posixfs.ErrExists {
		return nil, err
	}
	if err := fs.CreateDirectory(path.Join(root, tmpDirName), 0o755); err != nil && err != posixfs.ErrExists {
		return nil, err
	}
	return idx, nil
}

// linkCopy is one physical file backing a collision group.
type linkCopy struct {
	name chunkName
	path string
	stat posixfs.Stat
}

func (c linkCopy) referencing() int {
	// The index itself holds one of the hard links; everything beyond that
	// is a consumer reference.
	if c.stat.Nlink <= 1 {
		return 0
	}
	return c.stat.Nlink - 1
}

// Insert stores content read from src (of the given size, or -1 if
// unknown) in the index and returns the path of the chunk file the caller
// should hard-link its destination to.
func (idx *Index) Insert(src io.Reader, size int64) (string, error) {
	tmpPath, sum, length, err := idx.bufferAndHash(src)
	if err != nil {
		return "", err
	}
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = idx.fs.Delete(tmpPath)
		}
	}()
	if length == 0 {
		return "", ErrZeroLength
	}

	first4 := first4hex(sum)
	rem28 := rem28hex(sum)
	hashIdx := binary.BigEndian.Uint16(sum[:2])

	lock, err := idx.lockHashDir(first4, hashIdx)
	if err != nil {
		return "", err
	}
	defer lock.Unlock()

	dir := path.Join(idx.root, first4)
	groups, err := idx.scanGroups(dir, rem28, uint64(length))
	if err != nil {
		return "", err
	}

	for collision := uint64(0); ; collision++ {
		copies, ok := groups[collision]
		if !ok {
			break
		}
		clean := cleanCopies(copies)
		if len(clean) == 0 {
			// Every physical copy backing this collision group is flagged
			// .corrupt and there's no sibling left to migrate a new
			// reference to (spec.md §3, §7): escalate to the caller.
			return "", ErrCorrupt
		}
		equal, err := idx.contentEqualsCanonical(clean[0], tmpPath, length)
		if err != nil {
			return "", err
		}
		if equal {
			linkPath, err := idx.attachReference(dir, clean)
			if err != nil {
				return "", err
			}
			return linkPath, nil
		}
	}

	dest, err := idx.createGroup(dir, rem28, uint64(length), uint64(len(groups)), tmpPath)
	if err != nil {
		return "", err
	}
	cleanupTmp = false
	return dest, nil
}

func (idx *Index) bufferAndHash(src io.Reader) (tmpPath string, sum [16]byte, length int64, err error) {
	seq := atomic.AddUint64(&idx.tmpSeq, 1)
	tmpPath = path.Join(idx.root, tmpDirName, "insert-"+strconv.FormatUint(seq, 36))
	wc, err := idx.fs.CreateFile(tmpPath, 0o644)
	if err != nil {
		return "", sum, 0, err
	}
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(wc, h), src)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", sum, 0, err
	}
	copy(sum[:], h.Sum(nil))
	return tmpPath, sum, n, nil
}

// scanGroups lists dir and groups every chunk filename matching
// (rem28, length) by collision number, sorted by link number. Corrupt
// copies are included (linkCopy.name.Corrupt set) so Insert can still find
// a clean sibling within the group, or recognize that none exists.
func (idx *Index) scanGroups(dir string, rem28 string, length uint64) (map[uint64][]linkCopy, error) {
	it, err := idx.fs.List(dir)
	if err != nil {
		if err == posixfs.ErrNotExist {
			return map[uint64][]linkCopy{}, nil
		}
		return nil, err
	}
	defer it.Close()

	prefix := groupPrefix(rem28, length)
	groups := make(map[uint64][]linkCopy)
	for {
		de, err := it.Next()
		if err != nil {
			break
		}
		if de.Name == lockFileName {
			continue
		}
		if !strings.HasPrefix(de.Name, prefix) {
			continue
		}
		cn, err := parseChunkName(de.Name)
		if err != nil {
			continue
		}
		groups[cn.Collision] = append(groups[cn.Collision], linkCopy{
			name: cn,
			path: path.Join(dir, de.Name),
			stat: de.Stat,
		})
	}
	for k := range groups {
		sort.Slice(groups[k], func(i, j int) bool { return groups[k][i].name.Link < groups[k][j].name.Link })
	}
	return groups, nil
}

// cleanCopies returns the subset of copies not flagged .corrupt, preserving
// order. A new reference only ever migrates to one of these.
func cleanCopies(copies []linkCopy) []linkCopy {
	clean := make([]linkCopy, 0, len(copies))
	for _, c := range copies {
		if !c.name.Corrupt {
			clean = append(clean, c)
		}
	}
	return clean
}

func (idx *Index) contentEqualsCanonical(canonical linkCopy, tmpPath string, length int64) (bool, error) {
	rc, err := idx.fs.OpenFile(canonical.path)
	if err != nil {
		return false, err
	}
	defer rc.Close()
	var r io.Reader = rc
	if canonical.name.Gzip {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return false, err
		}
		defer gz.Close()
		r = gz
	}

	tmp, err := idx.fs.OpenFile(tmpPath)
	if err != nil {
		return false, err
	}
	defer tmp.Close()

	return readersEqual(r, tmp)
}

func readersEqual(a, b io.Reader) (bool, error) {
	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		nA, errA := io.ReadFull(a, bufA)
		nB, errB := io.ReadFull(b, bufB)
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if doneA != doneB {
			return false, nil
		}
		if doneA {
			return true, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

// selectLinkCopy picks which existing physical copy a new reference should
// hard-link to, per the replication thresholds in spec.md §4.3. It returns
// the chosen index into copies, or ok=false if every existing copy is full
// and a new one must be materialized.
func selectLinkCopy(copies []linkCopy) (chosen int, ok bool) {
	if len(copies) == 1 {
		if copies[0].referencing() < DuplicateLinkCount {
			return 0, true
		}
		return 0, false
	}

	total := 0
	for _, c := range copies {
		total += c.referencing()
	}
	if total <= CoalesceLinkCount && copies[0].referencing() < FileSystemMaxLinkCount {
		return 0, true
	}

	best := -1
	for i, c := range copies {
		if c.referencing() >= FileSystemMaxLinkCount {
			continue
		}
		if best == -1 || c.referencing() < copies[best].referencing() {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func (idx *Index) attachReference(dir string, copies []linkCopy) (string, error) {
	chosen, ok := selectLinkCopy(copies)
	if ok {
		return copies[chosen].path, nil
	}

	canonical := copies[0]
	name := canonical.name
	name.Link = uint64(len(copies))
	dest := path.Join(dir, name.String())
	if err := idx.fs.HardLink(canonical.path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (idx *Index) createGroup(dir, rem28 string, length, collision uint64, tmpPath string) (string, error) {
	compress, err := idx.shouldCompress(tmpPath, length)
	if err != nil {
		return "", err
	}
	name := chunkName{Rem28: rem28, Length: length, Collision: collision, Link: 0, Gzip: compress}
	dest := path.Join(dir, name.String())

	if !compress {
		if err := idx.fs.Rename(tmpPath, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	src, err := idx.fs.OpenFile(tmpPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	wc, err := idx.fs.CreateFile(dest, 0o644)
	if err != nil {
		return "", err
	}
	gz := gzip.NewWriter(wc)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		wc.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		wc.Close()
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// shouldCompress applies the policy from spec.md §4.3: only compress when
// the uncompressed length is at least one filesystem block and the
// compressed form actually crosses fewer block boundaries.
func (idx *Index) shouldCompress(tmpPath string, length uint64) (bool, error) {
	if int64(length) < idx.blockSize {
		return false, nil
	}
	src, err := idx.fs.OpenFile(tmpPath)
	if err != nil {
		return false, err
	}
	defer src.Close()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, src); err != nil {
		return false, err
	}
	if err := gz.Close(); err != nil {
		return false, err
	}

	uncompressedBlocks := (int64(length) + idx.blockSize - 1) / idx.blockSize
	compressedBlocks := (int64(buf.Len()) + idx.blockSize - 1) / idx.blockSize
	return compressedBlocks < uncompressedBlocks, nil
}

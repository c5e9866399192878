package archivefs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/parapack/parapack/archive"
)

// Mount parses archivePath and serves it read-only at mountpoint until the
// returned *fuse.Server is unmounted or ctx is cancelled. archivePath must
// be an uncompressed ParallelPack stream, since regular file content is
// decoded on demand by seeking back into it (see package doc).
func Mount(ctx context.Context, archivePath, mountpoint string) (*fuse.Server, error) {
	idx, err := Build(archivePath)
	if err != nil {
		return nil, err
	}

	root := &dirNode{entry: idx.Root, archivePath: archivePath}
	srv, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:   "parapackfs",
			Name:     "parapackfs",
			ReadOnly: true,
		},
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = srv.Unmount()
	}()

	return srv, nil
}

// dirNode is the fs.InodeEmbedder for a Directory record. Its children are
// attached once, at OnAdd time, since the archive tree is immutable for the
// lifetime of the mount.
type dirNode struct {
	fs.Inode
	entry       *entry
	archivePath string
}

var (
	_ fs.InodeEmbedder = (*dirNode)(nil)
	_ fs.NodeOnAdder   = (*dirNode)(nil)
	_ fs.NodeGetattrer = (*dirNode)(nil)
)

func (n *dirNode) OnAdd(ctx context.Context) {
	for _, child := range n.entry.sortedChildren() {
		n.attach(ctx, child)
	}
}

func (n *dirNode) attach(ctx context.Context, child *entry) {
	switch child.kind {
	case archive.Directory:
		childNode := &dirNode{entry: child, archivePath: n.archivePath}
		inode := n.NewPersistentInode(ctx, childNode, fs.StableAttr{Mode: syscall.S_IFDIR})
		n.AddChild(child.name, inode, true)
		childNode.OnAdd(ctx)

	case archive.Symlink:
		linkNode := &fs.MemSymlink{Data: []byte(child.target)}
		inode := n.NewPersistentInode(ctx, linkNode, fs.StableAttr{Mode: syscall.S_IFLNK})
		n.AddChild(child.name, inode, false)

	case archive.RegularFile:
		target := child
		for target.linkOf != nil {
			target = target.linkOf
		}
		fileNode := &fileNode{entry: target, archivePath: n.archivePath}
		inode := n.NewPersistentInode(ctx, fileNode, fs.StableAttr{Mode: syscall.S_IFREG})
		n.AddChild(child.name, inode, false)

	case archive.BlockDevice, archive.CharacterDevice, archive.FIFO:
		devNode := &specialNode{entry: child}
		mode := uint32(syscall.S_IFIFO)
		switch child.kind {
		case archive.BlockDevice:
			mode = syscall.S_IFBLK
		case archive.CharacterDevice:
			mode = syscall.S_IFCHR
		}
		inode := n.NewPersistentInode(ctx, devNode, fs.StableAttr{Mode: mode})
		n.AddChild(child.name, inode, false)
	}
}

func (n *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	applyCommonAttr(&out.Attr, n.entry)
	out.Attr.Mode |= syscall.S_IFDIR
	return 0
}

func applyCommonAttr(attr *fuse.Attr, e *entry) {
	attr.Uid = e.uid
	attr.Gid = e.gid
	attr.Mode = e.mode & 0o7777
	sec := uint64(e.mtimeMs) / 1000
	nsec := uint32(e.mtimeMs%1000) * 1e6
	attr.Mtime, attr.Ctime, attr.Atime = sec, sec, sec
	attr.Mtimensec, attr.Ctimensec, attr.Atimensec = nsec, nsec, nsec
}

// specialNode represents a device node or FIFO: attributes only, no data.
type specialNode struct {
	fs.Inode
	entry *entry
}

var _ fs.NodeGetattrer = (*specialNode)(nil)

func (n *specialNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	applyCommonAttr(&out.Attr, n.entry)
	out.Attr.Rdev = uint32(n.entry.rdev)
	return 0
}

// fileNode is a RegularFile. Content is decoded once, from the archive's
// stored data offset, and cached for the node's lifetime: fine for a
// read-only diagnostic mount, not a strategy that would scale to huge
// archives mounted for sustained I/O.
type fileNode struct {
	fs.Inode
	entry       *entry
	archivePath string

	once    sync.Once
	content []byte
	loadErr error
}

var (
	_ fs.InodeEmbedder = (*fileNode)(nil)
	_ fs.NodeOpener    = (*fileNode)(nil)
	_ fs.NodeReader    = (*fileNode)(nil)
	_ fs.NodeGetattrer = (*fileNode)(nil)
)

func (n *fileNode) load() ([]byte, error) {
	n.once.Do(func() {
		n.content, n.loadErr = n.decode()
	})
	return n.content, n.loadErr
}

func (n *fileNode) decode() ([]byte, error) {
	if !n.entry.hasData {
		return nil, nil
	}
	f, err := os.Open(n.archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	section := io.NewSectionReader(f, n.entry.dataOffset, fi.Size()-n.entry.dataOffset)

	var buf []byte
	w := &sliceWriter{buf: &buf}
	if _, err := archive.CopyFileData(w, section); err != nil {
		return nil, fmt.Errorf("archivefs: decoding file data: %w", err)
	}
	return buf, nil
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, err := n.load(); err != nil {
		return nil, 0, syscall.EIO
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.load()
	if err != nil {
		return nil, syscall.EIO
	}
	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), 0
}

func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	applyCommonAttr(&out.Attr, n.entry)
	out.Attr.Mode |= syscall.S_IFREG
	if data, err := n.load(); err == nil {
		out.Attr.Size = uint64(len(data))
	}
	return 0
}

package archive

import "strings"

// dirMtimeStacks defers a directory's mtime restoration until every entry
// beneath it (which setting mtime now would otherwise bump back to "now")
// has been written, per root-to-leaf order (spec.md §4.2). Each source root
// named in the archive gets its own stack so independently rooted subtrees
// never interfere with one another.
type dirMtimeStacks struct {
	byRoot map[string][]dirMtimeEntry
}

type dirMtimeEntry struct {
	prefix  string // dir's archive path with a trailing "/"
	mtimeMs int64
}

func newDirMtimeStacks() *dirMtimeStacks {
	return &dirMtimeStacks{byRoot: make(map[string][]dirMtimeEntry)}
}

func rootOf(archivePath string) string {
	trimmed := strings.TrimPrefix(archivePath, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// SettleAbove pops and applies every pending directory mtime whose subtree
// archivePath no longer falls under, deepest pending directory first,
// before archivePath is processed.
func (s *dirMtimeStacks) SettleAbove(archivePath string, apply func(dirPath string, mtimeMs int64) error) error {
	root := rootOf(archivePath)
	stack := s.byRoot[root]
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if strings.HasPrefix(archivePath, top.prefix) {
			break
		}
		stack = stack[:len(stack)-1]
		if err := apply(strings.TrimSuffix(top.prefix, "/"), top.mtimeMs); err != nil {
			s.byRoot[root] = stack
			return err
		}
	}
	s.byRoot[root] = stack
	return nil
}

// Push records dirPath's mtime to be restored once every later entry under
// it has gone by.
func (s *dirMtimeStacks) Push(dirPath string, mtimeMs int64) {
	root := rootOf(dirPath)
	s.byRoot[root] = append(s.byRoot[root], dirMtimeEntry{prefix: dirPath + "/", mtimeMs: mtimeMs})
}

// DrainAll applies every remaining pending directory mtime across all
// roots, deepest first, called once the stream's End record has arrived.
func (s *dirMtimeStacks) DrainAll(apply func(dirPath string, mtimeMs int64) error) error {
	for root, stack := range s.byRoot {
		for i := len(stack) - 1; i >= 0; i-- {
			if err := apply(strings.TrimSuffix(stack[i].prefix, "/"), stack[i].mtimeMs); err != nil {
				return err
			}
		}
		delete(s.byRoot, root)
	}
	return nil
}

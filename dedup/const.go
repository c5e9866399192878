// Package dedup implements the content-addressed data chunk index
// (spec.md §4.3): chunks are stored as regular files under a two-level
// directory hash keyed by MD5, with collision and link-count rollover
// encoded directly in the filename, and per-hash-directory locking for
// concurrent writers.
package dedup

// DirectoryHashBits controls how many top-level hash directories the index
// spreads chunks across: 2^DirectoryHashBits of them, keyed by the first
// DirectoryHashBits bits of each chunk's MD5. The source this index is
// modeled on computed the lock array's length with `2 ^ DirectoryHashBits`
// (bitwise XOR), which for DirectoryHashBits=16 evaluates to 18 instead of
// 65536 — almost certainly a typo for `1 << DirectoryHashBits`. This
// package uses the shift.
const DirectoryHashBits = 16

// hashDirCount is 1<<DirectoryHashBits, the fixed size of the hash
// directory (and lock) space.
const hashDirCount = 1 << DirectoryHashBits

const (
	// DuplicateLinkCount is the referencing-link threshold at which a
	// second physical copy of a collision group's canonical bytes is
	// created, spreading future hard links across two inodes.
	DuplicateLinkCount = 100

	// CoalesceLinkCount is the referencing-link threshold a duplicated
	// group must fall back to before new references are steered
	// exclusively back to copy 0.
	CoalesceLinkCount = 50

	// FileSystemMaxLinkCount bounds how many hard links a single chunk
	// inode may carry before a new link copy must be materialized.
	FileSystemMaxLinkCount = 60000
)

// defaultBlockSize is the filesystem block size assumed when deciding
// whether a chunk is worth storing gzip-compressed: compression is only
// applied when it saves at least one block.
const defaultBlockSize = 4096

// VerificationIntervalDays is the target period, in days, between re-verifications of a
// single chunk's content during a quick=false Verify pass.
const VerificationIntervalDays = 7

const lockFileName = "lock"
const tmpDirName = ".tmp"

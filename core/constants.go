package core

const (
	OneMegabyte = 1024 * 1024 // 1024 (1KB) * 1024 => 1MB

	// DefaultMaxTornTail is the most torn-tail recovery drops unless
	// WithMaxTornTail says otherwise.
	DefaultMaxTornTail = 64 * OneMegabyte

	DataFileExt = ".akv"

	// IndexKey is the sentinel key under which callers may persist a
	// KeyDir snapshot. The store itself gives it no special meaning.
	IndexKey = "+index"

	// snapshotMagic prefixes every marshalled KeyDir.
	snapshotMagic = "AKIX"
)

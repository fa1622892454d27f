// Package core is an embedded, single-file, append-only key-value store
// whose values are encrypted at rest.
//
// Every write appends a record to the datafile:
//
//	+--------------+-----------+---------------+-----------------+-----+------------------+
//	| checksum(32) | nonce(12) | key_len(LE32) | value_len(LE32) | key | encrypted value  |
//	+--------------+-----------+---------------+-----------------+-----+------------------+
//
// The checksum is BLAKE3-256 over key ++ encrypted value. Nothing is ever
// rewritten in place: an update appends a new version, a delete appends an
// empty value, and the latest record for a key wins. The datafile grows
// without bound; there is no compaction.
//
// A Store starts with an empty KeyDir. Call Load to rebuild it from the
// datafile, or RestoreKeyDir to install a previously saved snapshot.
//
//	c, err := secret.NewCipher(key)
//	s, err := core.Open("data.akv", c)
//	defer s.Close()
//	err = s.Load()
//	_, err = s.Insert([]byte("k"), []byte("v"))
//	v, ok, err := s.Get([]byte("k"))
//
// A Store is not safe for concurrent use; callers sharing one across
// goroutines must serialize every call themselves.
package core

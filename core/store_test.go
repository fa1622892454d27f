package core_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/0xRadioAc7iv/go-akvdb/core"
	"github.com/0xRadioAc7iv/go-akvdb/internal/record"
	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
)

func testCipher(t *testing.T, b byte) *secret.Cipher {
	t.Helper()

	c, err := secret.NewCipher(bytes.Repeat([]byte{b}, secret.KeySize))
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	return c
}

func dataPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store"+core.DataFileExt)
}

func openStore(t *testing.T, path string, c *secret.Cipher, opts ...core.Option) *core.Store {
	t.Helper()

	s, err := core.Open(path, c, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func mustInsert(t *testing.T, s *core.Store, key, value string) int64 {
	t.Helper()

	offset, err := s.Insert([]byte(key), []byte(value))
	if err != nil {
		t.Fatalf("insert %q failed: %v", key, err)
	}
	return offset
}

func mustGet(t *testing.T, s *core.Store, key string) (string, bool) {
	t.Helper()

	value, ok, err := s.Get([]byte(key))
	if err != nil {
		t.Fatalf("get %q failed: %v", key, err)
	}
	return string(value), ok
}

func encodedSize(key, value string) int64 {
	return int64(record.HeaderSize + len(key) + len(value) + secret.Overhead)
}

func TestStoreInsertGet(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 1))

	mustInsert(t, s, "foo", "bar")
	mustInsert(t, s, "empty", "")

	if v, ok := mustGet(t, s, "foo"); !ok || v != "bar" {
		t.Fatalf("expected bar, got %q (ok=%v)", v, ok)
	}
	if v, ok := mustGet(t, s, "empty"); !ok || v != "" {
		t.Fatalf("expected present empty value, got %q (ok=%v)", v, ok)
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 2)

	s := openStore(t, path, c)
	mustInsert(t, s, "a", "1")
	second := mustInsert(t, s, "a", "2")
	s.Close()

	s = openStore(t, path, c)
	if err := s.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if v, _ := mustGet(t, s, "a"); v != "2" {
		t.Fatalf("get: expected 2, got %q", v)
	}

	offset, value, ok, err := s.Find([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("find failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "2" {
		t.Fatalf("find: expected 2, got %q", value)
	}
	if offset != second {
		t.Fatalf("find offset = %d, want %d", offset, second)
	}
}

func TestStoreDeleteThenGet(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 3)
	s := openStore(t, path, c)

	mustInsert(t, s, "k", "v")
	if _, err := s.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	value, ok, err := s.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("deleted key should still be present")
	}
	if value == nil || len(value) != 0 {
		t.Fatalf("expected empty non-nil value, got %#v", value)
	}
}

func TestStoreMissingKey(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 4))
	mustInsert(t, s, "present", "x")

	value, ok, err := s.Get([]byte("missing"))
	if err != nil || ok || value != nil {
		t.Fatalf("expected absent without error, got %q ok=%v err=%v", value, ok, err)
	}

	_, _, ok, err = s.Find([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("find: expected absent without error, got ok=%v err=%v", ok, err)
	}
}

func TestStoreOpenStartsWithEmptyKeyDir(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 5)

	s := openStore(t, path, c)
	mustInsert(t, s, "a", "1")
	s.Close()

	s = openStore(t, path, c)
	if _, ok := mustGet(t, s, "a"); ok {
		t.Fatal("get before load should not see on-disk keys")
	}

	// find works without a keydir
	_, value, ok, err := s.Find([]byte("a"))
	if err != nil || !ok || string(value) != "1" {
		t.Fatalf("find before load: %q ok=%v err=%v", value, ok, err)
	}

	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if v, ok := mustGet(t, s, "a"); !ok || v != "1" {
		t.Fatalf("after load expected 1, got %q", v)
	}
}

func TestStoreLoadIsIdempotent(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 6))
	mustInsert(t, s, "a", "1")
	mustInsert(t, s, "b", "2")

	for i := 0; i < 3; i++ {
		if err := s.Load(); err != nil {
			t.Fatal(err)
		}
		if s.Len() != 2 {
			t.Fatalf("load %d: expected 2 keys, got %d", i, s.Len())
		}
	}
}

func TestStoreAppendOffsets(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 7))

	var want int64
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i%7)
		value := string(bytes.Repeat([]byte("x"), i))

		offset := mustInsert(t, s, key, value)
		if offset != want {
			t.Fatalf("insert %d: offset = %d, want %d", i, offset, want)
		}
		want += encodedSize(key, value)
	}
}

func TestStoreKeyDirMatchesFind(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := openStore(t, dataPath(t), testCipher(t, 8))

	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	want := make(map[string]string)

	for i := 0; i < 300; i++ {
		key := keys[rng.Intn(len(keys))]
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = s.Insert([]byte(key), []byte(fmt.Sprint(i)))
			want[key] = fmt.Sprint(i)
		case 1:
			_, err = s.Update([]byte(key), []byte(fmt.Sprint(-i)))
			want[key] = fmt.Sprint(-i)
		case 2:
			_, err = s.Delete([]byte(key))
			want[key] = ""
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	live := s.KeyDir()
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	loaded := s.KeyDir()

	if diff := cmp.Diff(live, loaded); diff != "" {
		t.Fatalf("keydir built by writes differs from rebuilt keydir (-live +loaded):\n%s", diff)
	}

	for _, key := range loaded.Keys() {
		offset, value, ok, err := s.Find([]byte(key))
		if err != nil || !ok {
			t.Fatalf("find %q: ok=%v err=%v", key, ok, err)
		}
		if offset != loaded[key] {
			t.Errorf("%q: keydir offset %d, find offset %d", key, loaded[key], offset)
		}
		if string(value) != want[key] {
			t.Errorf("%q: value %q, want %q", key, value, want[key])
		}
	}
}

func TestStoreGetAt(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 9))

	mustInsert(t, s, "a", "1")
	offset := mustInsert(t, s, "b", "2")

	kv, err := s.GetAt(offset)
	if err != nil {
		t.Fatal(err)
	}
	if string(kv.Key) != "b" || string(kv.Value) != "2" {
		t.Fatalf("got %q=%q", kv.Key, kv.Value)
	}

	end := offset + encodedSize("b", "2")
	if _, err := s.GetAt(end); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound at end of file, got %v", err)
	}
}

func TestStoreWrongKey(t *testing.T) {
	path := dataPath(t)

	s := openStore(t, path, testCipher(t, 10))
	offset := mustInsert(t, s, "a", "secret")
	s.Close()

	s = openStore(t, path, testCipher(t, 11))
	if err := s.Load(); !errors.Is(err, core.ErrDecrypt) {
		t.Fatalf("load: expected ErrDecrypt, got %v", err)
	}
	if _, err := s.GetAt(offset); !errors.Is(err, core.ErrDecrypt) {
		t.Fatalf("get at: expected ErrDecrypt, got %v", err)
	}
	if _, _, _, err := s.Find([]byte("a")); !errors.Is(err, core.ErrDecrypt) {
		t.Fatalf("find: expected ErrDecrypt, got %v", err)
	}
}

func TestStoreCorruptionIsNotSwallowed(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 12)

	s := openStore(t, path, c)
	mustInsert(t, s, "a", "1")
	damaged := mustInsert(t, s, "b", "2")
	mustInsert(t, s, "c", "3")
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[damaged+record.HeaderSize] ^= 0x01 // first key byte of "b"
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, path, c, core.WithTornTailRecovery(true))
	err = s.Load()
	if !errors.Is(err, core.ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
	var offErr *core.OffsetError
	if !errors.As(err, &offErr) || offErr.Offset != damaged {
		t.Fatalf("expected error at offset %d, got %v", damaged, err)
	}
	if s.Len() != 0 {
		t.Fatalf("failed load must not install a partial keydir, got %d keys", s.Len())
	}

	info, _ := os.Stat(path)
	if info.Size() != int64(len(data)) {
		t.Fatal("corruption must never trigger truncation")
	}
}

func tearTail(t *testing.T, path string, c *secret.Cipher) (intact int64) {
	t.Helper()

	s, err := core.Open(path, c)
	if err != nil {
		t.Fatal(err)
	}
	mustInsert(t, s, "a", "1")
	torn := mustInsert(t, s, "b", "2")
	s.Close()

	if err := os.Truncate(path, torn+10); err != nil {
		t.Fatal(err)
	}
	return torn
}

func TestStoreTornTailFailsByDefault(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 13)
	tearTail(t, path, c)

	s := openStore(t, path, c)
	if err := s.Load(); !errors.Is(err, core.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestStoreTornTailRecovery(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 14)
	intact := tearTail(t, path, c)

	s := openStore(t, path, c, core.WithTornTailRecovery(true))
	if err := s.Load(); err != nil {
		t.Fatalf("load with recovery failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != intact {
		t.Fatalf("datafile is %d bytes, want %d", info.Size(), intact)
	}

	if v, ok := mustGet(t, s, "a"); !ok || v != "1" {
		t.Fatalf("expected surviving record, got %q", v)
	}
	if _, ok := mustGet(t, s, "b"); ok {
		t.Fatal("torn record must not be indexed")
	}

	if offset := mustInsert(t, s, "b", "again"); offset != intact {
		t.Fatalf("insert after recovery at %d, want %d", offset, intact)
	}
}

func TestStoreTornTailRecoveryRespectsLimit(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 18)

	s := openStore(t, path, c)
	mustInsert(t, s, "a", "1")
	damaged := mustInsert(t, s, "b", "2")
	for i := 0; i < 10; i++ {
		mustInsert(t, s, fmt.Sprintf("after-%d", i), "valid")
	}
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// value_len of "b" now claims more bytes than the file holds
	binary.LittleEndian.PutUint32(data[damaged+record.ChecksumSize+record.NonceSize+4:], 0xFFFFFFFF)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, path, c, core.WithTornTailRecovery(true), core.WithMaxTornTail(64))
	err = s.Load()
	if !errors.Is(err, core.ErrTailTooLarge) {
		t.Fatalf("expected ErrTailTooLarge, got %v", err)
	}
	if !errors.Is(err, core.ErrTruncated) {
		t.Fatalf("expected the truncation to stay visible, got %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(data)) {
		t.Fatalf("datafile shrank to %d bytes, want %d", info.Size(), len(data))
	}
}

func TestStoreLoadFromReplaysRecordsAfterSnapshot(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 19)

	s := openStore(t, path, c)
	mustInsert(t, s, "a", "1")
	mustInsert(t, s, "gone", "x")

	snapshot, err := s.KeyDir().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	sentinel := mustInsert(t, s, core.IndexKey, string(snapshot))

	// written after the snapshot, never reflected in it
	mustInsert(t, s, "a", "2")
	mustInsert(t, s, "new", "3")
	if _, err := s.Delete([]byte("gone")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s = openStore(t, path, c)
	offset, stored, ok, err := s.Find([]byte(core.IndexKey))
	if err != nil || !ok {
		t.Fatalf("find sentinel: ok=%v err=%v", ok, err)
	}
	if offset != sentinel {
		t.Fatalf("sentinel at %d, want %d", offset, sentinel)
	}
	kd, err := core.UnmarshalKeyDir(stored)
	if err != nil {
		t.Fatal(err)
	}
	s.RestoreKeyDir(kd)

	if err := s.LoadFrom(offset); err != nil {
		t.Fatalf("load from %d failed: %v", offset, err)
	}

	want := map[string]string{"a": "2", "new": "3", "gone": ""}
	for key, value := range want {
		if got, ok := mustGet(t, s, key); !ok || got != value {
			t.Errorf("%q: got %q (ok=%v), want %q", key, got, ok, value)
		}
	}
}

func TestStoreLoadFromFailureKeepsKeyDir(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 20))
	mustInsert(t, s, "a", "1")
	before := s.KeyDir()

	if err := s.LoadFrom(1 << 20); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound past end of file, got %v", err)
	}
	if diff := cmp.Diff(before, s.KeyDir()); diff != "" {
		t.Fatalf("keydir changed by failed load (-before +after):\n%s", diff)
	}
}

func TestStoreIndexSnapshotUnderSentinelKey(t *testing.T) {
	path := dataPath(t)
	c := testCipher(t, 15)

	s := openStore(t, path, c)
	mustInsert(t, s, "a", "1")
	mustInsert(t, s, "b", "2")
	mustInsert(t, s, "a", "3")

	snapshot, err := s.KeyDir().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	mustInsert(t, s, core.IndexKey, string(snapshot))
	s.Close()

	s = openStore(t, path, c)
	_, stored, ok, err := s.Find([]byte(core.IndexKey))
	if err != nil || !ok {
		t.Fatalf("find sentinel: ok=%v err=%v", ok, err)
	}
	kd, err := core.UnmarshalKeyDir(stored)
	if err != nil {
		t.Fatal(err)
	}
	s.RestoreKeyDir(kd)

	if v, _ := mustGet(t, s, "a"); v != "3" {
		t.Fatalf("expected 3 from restored keydir, got %q", v)
	}
	if v, _ := mustGet(t, s, "b"); v != "2" {
		t.Fatalf("expected 2 from restored keydir, got %q", v)
	}
}

func TestStoreStaleKeyDir(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 16))
	offset := mustInsert(t, s, "a", "1")

	s.RestoreKeyDir(core.KeyDir{"b": offset})
	if _, _, err := s.Get([]byte("b")); !errors.Is(err, core.ErrStaleKeyDir) {
		t.Fatalf("expected ErrStaleKeyDir, got %v", err)
	}
}

func TestStoreRequiresCipher(t *testing.T) {
	if _, err := core.Open(dataPath(t), nil); !errors.Is(err, core.ErrNoCipher) {
		t.Fatalf("expected ErrNoCipher, got %v", err)
	}
}

func TestStoreClosed(t *testing.T) {
	s := openStore(t, dataPath(t), testCipher(t, 17), core.WithSyncWrites(true))
	mustInsert(t, s, "a", "1")

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Insert([]byte("a"), []byte("2")); !errors.Is(err, core.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Load(); !errors.Is(err, core.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

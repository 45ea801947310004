package kvstore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.sqlite"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.Put([]byte{0x32, 0x01}, []byte("utxo-one"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	value, found, err := s.Get([]byte{0x32, 0x01})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if string(value) != "utxo-one" {
		t.Errorf("Get() value = %q, want %q", value, "utxo-one")
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.Get([]byte{0x32, 0xFF})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("Get() found = true for missing key, want false")
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.Put([]byte{0x32, 0x01}, []byte("v"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	b = s.NewBatch()
	b.Delete([]byte{0x32, 0x01})
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	_, found, err := s.Get([]byte{0x32, 0x01})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("Get() found = true after delete, want false")
	}
}

func TestPrefixScanOrdersAscendingAndBounds(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.Put([]byte{0x32, 0x03}, []byte("c"))
	b.Put([]byte{0x32, 0x01}, []byte("a"))
	b.Put([]byte{0x32, 0x02}, []byte("b"))
	b.Put([]byte{0x33, 0x01}, []byte("other-prefix"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	rows, err := s.PrefixScan([]byte{0x32})
	if err != nil {
		t.Fatalf("PrefixScan() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("PrefixScan() returned %d rows, want 3", len(rows))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(rows[i].Value) != want {
			t.Errorf("row %d = %q, want %q", i, rows[i].Value, want)
		}
	}
}

func TestBatchAtomicity(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.Put([]byte{0x34, 0x01}, []byte("x"))
	b.Put([]byte{0x34, 0x02}, []byte("y"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	rows, err := s.PrefixScan([]byte{0x34})
	if err != nil {
		t.Fatalf("PrefixScan() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("PrefixScan() returned %d rows, want 2", len(rows))
	}
}

func TestSnapshotIsolatedFromSubsequentWrites(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.Put([]byte{0x32, 0x01}, []byte("initial"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	snap, err := s.NewSnapshot()
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	defer snap.Close()

	b = s.NewBatch()
	b.Put([]byte{0x32, 0x02}, []byte("added-after-snapshot"))
	if err := s.Commit(b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	rows, err := snap.PrefixScan([]byte{0x32})
	if err != nil {
		t.Fatalf("snapshot PrefixScan() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("snapshot PrefixScan() returned %d rows, want 1 (isolated from later write)", len(rows))
	}
}

package bpt

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/brelkirk/pagekit/bufmgr"
	"github.com/brelkirk/pagekit/device"
)

func newTestTree(t *testing.T, frames int) *Tree {
	t.Helper()
	dev := device.NewMemoryDevice(512)
	mgr := bufmgr.New(dev, frames)
	cfg := DefaultConfig()
	cfg.LeafMaxSlotSize = 128
	cfg.InodeMaxSlotSize = 128
	return New(NewBufModel(mgr), cfg)
}

func TestInsertFindRoundTrip(t *testing.T) {
	tree := newTestTree(t, 64)
	if ok, err := tree.Insert([]byte("a"), []byte("1")); err != nil || !ok {
		t.Fatalf("insert a failed: %v %v", ok, err)
	}
	if ok, err := tree.Insert([]byte("b"), []byte("2")); err != nil || !ok {
		t.Fatalf("insert b failed: %v %v", ok, err)
	}
	if v, ok := tree.Find([]byte("a")); !ok || string(v) != "1" {
		t.Fatalf("find a = %q, %v", v, ok)
	}
	if v, ok := tree.Find([]byte("b")); !ok || string(v) != "2" {
		t.Fatalf("find b = %q, %v", v, ok)
	}
	if _, ok := tree.Find([]byte("z")); ok {
		t.Fatalf("find z should miss")
	}
}

func TestUpsertOverwrites(t *testing.T) {
	tree := newTestTree(t, 64)
	tree.Insert([]byte("k"), []byte("v1"))
	tree.Insert([]byte("k"), []byte("v2"))
	v, ok := tree.Find([]byte("k"))
	if !ok || string(v) != "v2" {
		t.Fatalf("find k = %q, %v; want v2", v, ok)
	}
}

func TestInsertOnlyPolicyRejectsDuplicate(t *testing.T) {
	tree := newTestTree(t, 64)
	tree.cfg.Insert = InsertOnly
	ok, _ := tree.Insert([]byte("k"), []byte("v1"))
	if !ok {
		t.Fatalf("first insert should succeed")
	}
	ok, _ = tree.Insert([]byte("k"), []byte("v2"))
	if ok {
		t.Fatalf("duplicate insert under InsertOnly should report false")
	}
	v, _ := tree.Find([]byte("k"))
	if string(v) != "v1" {
		t.Fatalf("value changed under InsertOnly: %q", v)
	}
}

func TestSplitAndRemoveManyKeys(t *testing.T) {
	tree := newTestTree(t, 256)
	const n = 400
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))
		if ok, err := tree.Insert(key, val); err != nil || !ok {
			t.Fatalf("insert %d failed: %v %v", i, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		v, ok := tree.Find(key)
		if !ok || string(v) != fmt.Sprintf("val-%05d", i) {
			t.Fatalf("find %d = %q, %v", i, v, ok)
		}
	}
	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if ok, err := tree.Remove(key); err != nil || !ok {
			t.Fatalf("remove %d failed: %v %v", i, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		_, ok := tree.Find(key)
		want := i%2 == 1
		if ok != want {
			t.Fatalf("after deletions, find %d present=%v, want %v", i, ok, want)
		}
	}
}

func TestIteratorForwardAndBackward(t *testing.T) {
	tree := newTestTree(t, 256)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))
		if ok, err := tree.Insert(key, val); err != nil || !ok {
			t.Fatalf("insert %d failed: %v %v", i, ok, err)
		}
	}

	i := 0
	for it := First(tree); it.Valid(); it.Next() {
		want := fmt.Sprintf("key-%05d", i)
		if string(it.Key()) != want {
			t.Fatalf("forward[%d] = %q, want %q", i, it.Key(), want)
		}
		if string(it.Value()) != fmt.Sprintf("val-%05d", i) {
			t.Fatalf("forward value[%d] = %q", i, it.Value())
		}
		i++
	}
	if i != n {
		t.Fatalf("forward traversal visited %d records, want %d", i, n)
	}

	i = n - 1
	for it := Last(tree); it.Valid(); it.Prev() {
		want := fmt.Sprintf("key-%05d", i)
		if string(it.Key()) != want {
			t.Fatalf("backward[%d] = %q, want %q", i, it.Key(), want)
		}
		i--
	}
	if i != -1 {
		t.Fatalf("backward traversal visited %d records, want %d", n-1-i, n)
	}
}

func TestIteratorSeekAndEnd(t *testing.T) {
	tree := newTestTree(t, 64)
	tree.Insert([]byte("b"), []byte("2"))
	tree.Insert([]byte("d"), []byte("4"))
	tree.Insert([]byte("f"), []byte("6"))

	it := Seek(tree, []byte("c"))
	if !it.Valid() || string(it.Key()) != "d" {
		t.Fatalf("seek(c) = %q, valid=%v; want d", it.Key(), it.Valid())
	}

	it = Seek(tree, []byte("z"))
	if it.Valid() {
		t.Fatalf("seek(z) should land past the end, got %q", it.Key())
	}
	if end := End(tree); end.Valid() {
		t.Fatalf("End() must never be valid")
	}
}

func TestIteratorDeleteAdvances(t *testing.T) {
	tree := newTestTree(t, 64)
	for _, k := range []string{"a", "b", "c", "d"} {
		tree.Insert([]byte(k), []byte(k))
	}

	it := Seek(tree, []byte("b"))
	if !it.Delete() {
		t.Fatalf("Delete() at b should succeed")
	}
	if !it.Valid() || string(it.Key()) != "c" {
		t.Fatalf("after deleting b, iterator = %q, valid=%v; want c", it.Key(), it.Valid())
	}
	if _, ok := tree.Find([]byte("b")); ok {
		t.Fatalf("b should no longer be in the tree")
	}

	it = End(tree)
	if it.Delete() {
		t.Fatalf("Delete() on End() should report false")
	}
}

// treeKeyStream walks tree in key order via its Iterator, per spec §4.5's
// bidirectional leaf-chain traversal.
func treeKeyStream(tree *Tree) []string {
	var out []string
	for it := First(tree); it.Valid(); it.Next() {
		out = append(out, string(it.Key()))
	}
	return out
}

// modelKeyStream returns model's keys sorted, as the reference sorted
// map's in-order key stream.
func modelKeyStream(model map[string]string) []string {
	keys := make([]string, 0, len(model))
	for k := range model {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func assertKeyStreamsEqual(t *testing.T, step int, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("step %d: key stream length = %d, want %d", step, len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: key stream[%d] = %q, want %q", step, i, got[i], want[i])
		}
	}
}

// TestDeterminismAgainstMapAndBolt implements spec §8 scenario 1: against
// a PRNG seeded at 0xC0FFEE, perform 15,000 mixed operations (60% upsert,
// 40% remove) on keys drawn uniformly from [0, 2000], values the decimal
// string of the key. Every 500 steps the in-order key stream from the
// tree must equal the one from a reference sorted map; surviving keys
// are also cross-checked against a bbolt bucket as an independent
// oracle.
func TestDeterminismAgainstMapAndBolt(t *testing.T) {
	rng := rand.New(rand.NewPCG(0xC0FFEE, 0xC0FFEE))
	tree := newTestTree(t, 512)
	model := make(map[string]string)

	boltPath := t.TempDir() + "/oracle.db"
	db, err := bolt.Open(boltPath, 0600, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	defer db.Close()
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("kv"))
		return err
	}); err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	const ops = 15000
	const keyspace = 2001 // [0, 2000] inclusive
	for i := 0; i < ops; i++ {
		keyNum := rng.IntN(keyspace)
		key := fmt.Sprintf("k-%04d", keyNum)
		if rng.IntN(100) < 60 {
			val := fmt.Sprintf("%d", keyNum)
			if _, err := tree.Insert([]byte(key), []byte(val)); err != nil {
				t.Fatalf("insert error: %v", err)
			}
			model[key] = val
			db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket([]byte("kv")).Put([]byte(key), []byte(val))
			})
		} else {
			tree.Remove([]byte(key))
			delete(model, key)
			db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket([]byte("kv")).Delete([]byte(key))
			})
		}

		if (i+1)%500 == 0 {
			assertKeyStreamsEqual(t, i+1, treeKeyStream(tree), modelKeyStream(model))
		}
	}

	assertKeyStreamsEqual(t, ops, treeKeyStream(tree), modelKeyStream(model))

	for key, want := range model {
		got, ok := tree.Find([]byte(key))
		if !ok || string(got) != want {
			t.Fatalf("tree mismatch for %q: got %q ok=%v, want %q", key, got, ok, want)
		}
		db.View(func(tx *bolt.Tx) error {
			boltVal := tx.Bucket([]byte("kv")).Get([]byte(key))
			if string(boltVal) != want {
				t.Fatalf("oracle mismatch for %q: bolt has %q, want %q", key, boltVal, want)
			}
			return nil
		})
	}
}

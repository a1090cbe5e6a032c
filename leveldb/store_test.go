package leveldb_test

import (
	"io/ioutil"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/pilosa/erpdk/leveldb"
	"github.com/pilosa/erpdk/test"
)

func tempFile(t *testing.T) string {
	dir, err := ioutil.TempDir("", "erpdk-leveldb")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestStoreEntities(t *testing.T) {
	name := tempFile(t)
	defer os.RemoveAll(name)
	s, err := leveldb.NewStore(name)
	test.ErrNil(t, err, "NewStore")

	wg := sync.WaitGroup{}
	for i := int64(0); i < 10; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			if err := s.AddEntities([]int64{i, i + 100}); err != nil {
				t.Errorf("adding: %v", err)
			}
		}(i)
	}
	wg.Wait()
	test.ErrNil(t, s.AddEntities([]int64{5}), "re-adding")
	test.ErrNil(t, s.Close(), "Close")

	s, err = leveldb.NewStore(name)
	test.ErrNil(t, err, "reopening")
	defer s.Close()
	ids, err := s.Entities()
	test.ErrNil(t, err, "Entities")
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	exp := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109}
	test.MustBe(t, exp, ids)
}

func TestStoreCheckpoints(t *testing.T) {
	name := tempFile(t)
	defer os.RemoveAll(name)
	s, err := leveldb.NewStore(name)
	test.ErrNil(t, err, "NewStore")
	defer s.Close()

	done, err := s.Done("part-00000.json")
	test.ErrNil(t, err, "Done")
	if done {
		t.Fatal("nothing should be done yet")
	}
	test.ErrNil(t, s.MarkDone("part-00000.json", "part-00001.json"), "MarkDone")
	for _, n := range []string{"part-00000.json", "part-00001.json"} {
		done, err = s.Done(n)
		test.ErrNil(t, err, "Done")
		if !done {
			t.Fatalf("%s should be done", n)
		}
	}
}

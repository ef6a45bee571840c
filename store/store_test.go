package store

import (
	"sync"
	"testing"
)

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"example":       true,
		"example-2020":  true,
		"example_2020":  true,
		"../escape":     false,
		"":               false,
		"has/slash":     false,
		"has space":     false,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGetIndexCreatesAndCaches(t *testing.T) {
	ds := New(t.TempDir())

	if _, err := ds.GetIndex("missing", false); err == nil {
		t.Fatal("expected an error opening a nonexistent collection without create")
	}

	ix, err := ds.GetIndex("example", true)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Name != "example" {
		t.Fatalf("Name = %q, want %q", ix.Name, "example")
	}

	again, err := ds.GetIndex("example", false)
	if err != nil {
		t.Fatal(err)
	}
	if again != ix {
		t.Fatal("expected GetIndex to return the same cached handle on a second call")
	}
}

func TestGetIndexRejectsInvalidName(t *testing.T) {
	ds := New(t.TempDir())
	if _, err := ds.GetIndex("../escape", true); err == nil {
		t.Fatal("expected an error for a path-traversal collection name")
	}
}

func TestGetIndexConcurrentOpensCollapse(t *testing.T) {
	ds := New(t.TempDir())

	const n = 20
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ix, err := ds.GetIndex("concurrent", true)
			if err != nil {
				results[i] = err
				return
			}
			results[i] = ix
		}(i)
	}
	wg.Wait()

	first := results[0]
	if _, isErr := first.(error); isErr {
		t.Fatalf("unexpected error from concurrent GetIndex: %v", first)
	}
	for i, r := range results {
		if r != first {
			t.Fatalf("result %d = %v, want the same handle as result 0 (%v)", i, r, first)
		}
	}
}

func TestListCollectionsIncludesOpenedAndOnDisk(t *testing.T) {
	ds := New(t.TempDir())
	if _, err := ds.GetIndex("opened", true); err != nil {
		t.Fatal(err)
	}

	names, err := ds.ListCollections()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range names {
		if n == "opened" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q in ListCollections output %v", "opened", names)
	}
}

func TestCloseAllClearsRegistry(t *testing.T) {
	ds := New(t.TempDir())
	if _, err := ds.GetIndex("example", true); err != nil {
		t.Fatal(err)
	}
	ds.CloseAll()
	if len(ds.collections) != 0 {
		t.Fatalf("expected empty registry after CloseAll, got %d entries", len(ds.collections))
	}
}

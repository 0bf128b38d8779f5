package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/base", "data/x.db"); got != "/base/data/x.db" {
		t.Fatalf("relative: %s", got)
	}
	if got := ResolvePath("/base", "/abs/x.db"); got != "/abs/x.db" {
		t.Fatalf("absolute: %s", got)
	}
}

func TestSeconds(t *testing.T) {
	if Seconds(45) != 45*time.Second {
		t.Fatal("conversion wrong")
	}
}

func TestWriteJSONFileCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "out.json")
	if err := WriteJSONFile(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty file")
	}
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer[int](3)

	r.Push(1)
	r.Push(2)
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}

	r.Push(3)
	r.Push(4) // overwrites 1

	got := r.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("snapshot: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot: %v, want %v", got, want)
		}
	}
}

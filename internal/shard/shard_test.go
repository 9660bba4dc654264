package shard

import "testing"

func TestIndexStableAndInRange(t *testing.T) {
	for _, n := range []int{1, 7, 256} {
		for _, k := range []string{"", "a", "capcache:6ba7b810-9dad-11d1-80b4-00c04fd430c8"} {
			i := Index(k, n)
			if i < 0 || i >= n {
				t.Fatalf("Index(%q,%d)=%d out of range", k, n, i)
			}
			if Index(k, n) != i {
				t.Fatalf("Index(%q,%d) not stable", k, n)
			}
		}
	}
}

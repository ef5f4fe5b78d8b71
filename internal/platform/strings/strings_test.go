package strings

import (
	"reflect"
	"testing"
)

func TestIfEmpty(t *testing.T) {
	if got := IfEmpty(nil, []string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("IfEmpty(nil) = %v", got)
	}
	if got := IfEmpty([]int{1}, []int{2}); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("IfEmpty(non-empty) = %v", got)
	}
}

func TestCompact(t *testing.T) {
	got := Compact([]string{" b", "a", "", "b ", "  ", "a"})
	if !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Compact = %v", got)
	}
}

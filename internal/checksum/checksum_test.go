package checksum

import "testing"

func TestSumStable(t *testing.T) {
	if Sum([]byte("day")) != Sum([]byte("day")) {
		t.Fatal("Sum not deterministic")
	}
	if Sum([]byte("day")) == Sum([]byte("log")) {
		t.Fatal("different input, same digest")
	}
}

func TestSumPartsBoundaries(t *testing.T) {
	a := SumParts([]byte("ab"), []byte("c"))
	b := SumParts([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("part boundaries must affect the digest")
	}
	if SumParts() == SumParts([]byte{}) {
		t.Error("empty part must differ from no parts")
	}
}

package mathx

import "testing"

func TestFloorDivNegative(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{0, 10, 0},
		{9, 10, 0},
		{10, 10, 1},
		{-1, 10, -1},
		{-10, 10, -1},
		{-11, 10, -2},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.want {
			t.Fatalf("FloorDiv(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCeilDiv(t *testing.T) {
	if got := CeilDiv(29, 10); got != 3 {
		t.Fatalf("CeilDiv(29,10) = %d, want 3", got)
	}
	if got := CeilDiv(30, 10); got != 3 {
		t.Fatalf("CeilDiv(30,10) = %d, want 3", got)
	}
	if got := CeilDiv(-5, 10); got != 0 {
		t.Fatalf("CeilDiv(-5,10) = %d, want 0", got)
	}
}

func TestModNegative(t *testing.T) {
	if got := Mod(-1, 10); got != 9 {
		t.Fatalf("Mod(-1,10) = %d, want 9", got)
	}
	if got := Mod(25, 10); got != 5 {
		t.Fatalf("Mod(25,10) = %d, want 5", got)
	}
}

func TestHash2Deterministic(t *testing.T) {
	if Hash2(7, -3, 4) != Hash2(7, -3, 4) {
		t.Fatalf("Hash2 not deterministic")
	}
	if Hash2(7, -3, 4) == Hash2(8, -3, 4) {
		t.Fatalf("Hash2 ignores seed")
	}
}

package xorname

import "testing"

func TestMajority(t *testing.T) {
	cases := []struct {
		n, want int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
		{7, 4},
		{8, 5},
	}
	for _, c := range cases {
		if got := Majority(c.n); got != c.want {
			t.Fatalf("Majority(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestFromContentStable(t *testing.T) {
	a := FromContent([]byte("hello"))
	b := FromContent([]byte("hello"))
	if a != b {
		t.Fatalf("same content produced different names: %s vs %s", a, b)
	}
	c := FromContent([]byte("hello!"))
	if a == c {
		t.Fatalf("different content produced the same name")
	}
}

func TestDistanceOrdering(t *testing.T) {
	var target, near, far XorName
	near[Size-1] = 0x01
	far[0] = 0x80
	if !target.CloserTo(near, far) {
		t.Fatalf("expected %s closer to %s than %s", near, target, far)
	}
	if target.CloserTo(far, near) {
		t.Fatalf("expected %s not closer than %s", far, near)
	}
	if target.CloserTo(near, near) {
		t.Fatalf("a name must not be strictly closer than itself")
	}
}

func TestHexRoundTrip(t *testing.T) {
	n := Random()
	parsed, err := FromHex(n.String())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed != n {
		t.Fatalf("hex round trip changed name")
	}
	if _, err := FromHex("abcd"); err == nil {
		t.Fatalf("expected error for short hex")
	}
}

func TestTextMarshalRoundTrip(t *testing.T) {
	n := Random()
	text, err := n.MarshalText()
	if err != nil {
		t.Fatalf("marshal text: %v", err)
	}
	var back XorName
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if back != n {
		t.Fatalf("text round trip changed name")
	}
}

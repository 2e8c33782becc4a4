package frame

import "testing"

func TestFramerate_TickPTS(t *testing.T) {
	fr := Framerate{Num: 30, Den: 1}
	cases := []struct {
		tick uint64
		want float64
	}{
		{0, 0},
		{1, 1.0 / 30.0},
		{30, 1.0},
	}
	for _, c := range cases {
		got := fr.TickPTS(c.tick)
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("TickPTS(%d) = %v, want %v", c.tick, got, c.want)
		}
	}
}

func TestFramerate_Valid(t *testing.T) {
	if !(Framerate{Num: 30, Den: 1}).Valid() {
		t.Fatal("30/1 should be valid")
	}
	if (Framerate{Num: 0, Den: 1}).Valid() {
		t.Fatal("0/1 should be invalid")
	}
	if (Framerate{Num: 30, Den: 0}).Valid() {
		t.Fatal("30/0 should be invalid")
	}
}

func TestResolution_Even(t *testing.T) {
	if !(Resolution{Width: 1920, Height: 1080}).Even() {
		t.Fatal("1920x1080 should be even")
	}
	if (Resolution{Width: 1921, Height: 1080}).Even() {
		t.Fatal("1921x1080 should not be even")
	}
}

package checksum

import "testing"

func TestSumStable(t *testing.T) {
	a := Sum([]byte("hello"))
	if a != SumString("hello") {
		t.Fatal("Sum and SumString disagree")
	}
	if a != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("unexpected digest %s", a)
	}
	if len(Short([]byte("hello"))) != 12 {
		t.Error("short digest length")
	}
}

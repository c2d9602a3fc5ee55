package slot

import "testing"

func TestCRC16KnownVector(t *testing.T) {
	if got := CRC16([]byte("123456789")); got != 0x31C3 {
		t.Fatalf("CRC16(123456789) = %#x, want 0x31C3", got)
	}
}

func TestTagExtraction(t *testing.T) {
	cases := []struct{ key, want string }{
		{"user:1000", "user:1000"},
		{"{user}.profile", "user"},
		{"{user}.sessions", "user"},
		{"foo{}bar", "foo{}bar"},     // empty tag falls through to whole key
		{"foo{{bar}}baz", "{bar"},    // first '{' remembered, next '}' ends it
		{"{}literal", "{}literal"},   // empty tag at start falls through
		{"a{b}c{d}e", "b"},           // only the first balanced pair counts
	}
	for _, c := range cases {
		if got := Tag(c.key); got != c.want {
			t.Errorf("Tag(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}

func TestSlotRange(t *testing.T) {
	keys := []string{"foo", "bar", "{user}.profile", "", "a:b:c:1234567890"}
	for _, k := range keys {
		s := Of(k)
		if s < 0 || s > Count-1 {
			t.Errorf("Of(%q) = %d out of range", k, s)
		}
	}
}

func TestHashTagGrouping(t *testing.T) {
	if Of("{user}.profile") != Of("{user}.sessions") {
		t.Fatalf("keys sharing a hash tag must map to the same slot")
	}
	if Of("{user}.profile") != Of("user") {
		t.Fatalf("tagged key must hash the same as the bare tag")
	}
}

func TestOfKeysRequireMultipleSlots(t *testing.T) {
	if _, ok := OfKeys([]string{"{user}.a", "{user}.b"}); !ok {
		t.Fatalf("keys sharing a tag should report a single slot")
	}
	if _, ok := OfKeys([]string{"foo", "completely-different-key"}); ok {
		t.Fatalf("unrelated keys should not report a single slot")
	}
	if got, ok := OfKeys(nil); !ok || got != Unknown {
		t.Fatalf("zero keys should report (Unknown, true), got (%d, %v)", got, ok)
	}
}

func TestKnownSlotForMovedScenario(t *testing.T) {
	// Scenario 3 in the test matrix: GET foo must hash to slot 12182.
	if got := Of("foo"); got != 12182 {
		t.Fatalf("Of(foo) = %d, want 12182", got)
	}
}

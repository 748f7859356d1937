package scantypes

import "testing"

func TestOutPoint_StringParseRoundTrip(t *testing.T) {
	op := OutPoint{Txid: Txid{0x01, 0x02, 0x03, 0xFF}, Vout: 42}

	s := op.String()
	got, err := ParseOutPoint(s)
	if err != nil {
		t.Fatalf("ParseOutPoint(%q) returned error: %v", s, err)
	}
	if got != op {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, op)
	}
}

func TestParseOutPoint_RejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"no-colon-here",
		"zz:0",
		"aabb:notanumber",
	}
	for _, c := range cases {
		if _, err := ParseOutPoint(c); err == nil {
			t.Fatalf("expected error parsing %q", c)
		}
	}
}

func TestCandidateScript_XOnlyKey(t *testing.T) {
	var spk CandidateScript
	spk[0] = 0x51
	spk[1] = 0x20
	for i := 0; i < 32; i++ {
		spk[2+i] = byte(i)
	}

	x := spk.XOnlyKey()
	for i := 0; i < 32; i++ {
		if x[i] != byte(i) {
			t.Fatalf("byte %d: got %x, want %x", i, x[i], byte(i))
		}
	}
}

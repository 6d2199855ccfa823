package codec

import "testing"

func TestFormatVerifyRoundTrip(t *testing.T) {
	key := []byte("hello")
	value := []byte("world")

	encoded := Format(key, value)
	if len(encoded) != GetDataSize(len(key), len(value)) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), GetDataSize(len(key), len(value)))
	}

	offs := Offsets(len(key), len(value))

	gotKey, err := VerifySlot(encoded[offs.KeyStart:offs.KeyEnd])
	if err != nil {
		t.Fatalf("verify key slot: %v", err)
	}
	if string(gotKey) != "hello" {
		t.Fatalf("key = %q, want %q", gotKey, "hello")
	}

	gotValue, err := VerifySlot(encoded[offs.ValueStart:offs.ValueEnd])
	if err != nil {
		t.Fatalf("verify value slot: %v", err)
	}
	if string(gotValue) != "world" {
		t.Fatalf("value = %q, want %q", gotValue, "world")
	}
}

func TestVerifySlotCrcMismatch(t *testing.T) {
	encoded := Format([]byte("key"), []byte("value"))
	encoded[4] ^= 0xFF // corrupt a payload byte without touching the length prefix

	if _, err := VerifySlot(encoded[:SlotOverhead+3]); err == nil {
		t.Fatal("expected a CRC mismatch error, got nil")
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{1, DataAlignment},
		{DataAlignment, DataAlignment},
		{DataAlignment + 1, 2 * DataAlignment},
	}
	for _, c := range cases {
		if got := RoundUp(c.in); got != c.want {
			t.Errorf("RoundUp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAppendAndVerifyTrailingCRC(t *testing.T) {
	data := []byte("some header bytes")
	withCrc := AppendTrailingCRC(data)

	if err := VerifyTrailingCRC(withCrc); err != nil {
		t.Fatalf("verify trailing crc: %v", err)
	}

	withCrc[0] ^= 0xFF
	if err := VerifyTrailingCRC(withCrc); err == nil {
		t.Fatal("expected trailing CRC mismatch after corruption")
	}
}

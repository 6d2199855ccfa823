package pagemgr

import "testing"

func TestLeafHeaderBitmap(t *testing.T) {
	h := NewLeafHeader()

	if h.Full() {
		t.Fatal("fresh header reports full")
	}
	if got := h.FirstClearSlot(); got != 0 {
		t.Fatalf("FirstClearSlot() = %d, want 0", got)
	}

	for i := 0; i < NumSlot; i++ {
		h.SetBit(i)
	}
	if !h.Full() {
		t.Fatal("header with every bit set should report full")
	}
	if got := h.FirstClearSlot(); got != -1 {
		t.Fatalf("FirstClearSlot() on full header = %d, want -1", got)
	}

	h.ClearBit(5)
	if h.Full() {
		t.Fatal("header with a cleared bit reports full")
	}
	if got := h.FirstClearSlot(); got != 5 {
		t.Fatalf("FirstClearSlot() = %d, want 5", got)
	}
}

func TestLeafHeaderSerializeRoundTrip(t *testing.T) {
	h := NewLeafHeader()
	h.SetBit(3)
	h.Fingerprints[3] = 0xAB
	h.KVInfo[3] = KVInfo{PageID: 7, Offset: InitialTailOffset, KeySize: 3, ValueSize: 5}
	h.Next = 9
	h.Ext = InvalidPageID
	h.TailOffset = InitialTailOffset + HeaderSize

	buf := h.Serialize()
	if len(buf) != HeaderSize {
		t.Fatalf("serialized header length = %d, want %d", len(buf), HeaderSize)
	}

	got, ok := DeserializeHeader(buf)
	if !ok {
		t.Fatal("DeserializeHeader reported ok=false on a freshly serialized header")
	}

	if got.Next != 9 || got.Ext != InvalidPageID {
		t.Fatalf("Next/Ext roundtrip mismatch: got %+v", got)
	}
	if !got.BitSet(3) || got.Fingerprints[3] != 0xAB {
		t.Fatalf("slot 3 roundtrip mismatch: got %+v", got.KVInfo[3])
	}
	if got.KVInfo[3] != h.KVInfo[3] {
		t.Fatalf("KVInfo[3] = %+v, want %+v", got.KVInfo[3], h.KVInfo[3])
	}
}

func TestDeserializeHeaderRejectsCorruption(t *testing.T) {
	h := NewLeafHeader()
	buf := h.Serialize()
	buf[0] ^= 0xFF // corrupt the magic

	if _, ok := DeserializeHeader(buf); ok {
		t.Fatal("DeserializeHeader accepted a header with a corrupted magic/CRC")
	}
}

package header

import "testing"

func TestInitDecodeRoundTrip(t *testing.T) {
	buf := make([]byte, Size+4)
	Init(buf, 42, PriorityHigh, 4, -7)
	SetDestinationID(buf, 99)
	SetTransactionID(buf, 5)
	copy(buf[Size:], []byte{1, 2, 3, 4})

	h := Decode(buf)
	if h.MsgID != 42 {
		t.Errorf("MsgID = %d, want 42", h.MsgID)
	}
	if h.Priority != PriorityHigh {
		t.Errorf("Priority = %d, want %d", h.Priority, PriorityHigh)
	}
	if h.PayloadSize != 4 {
		t.Errorf("PayloadSize = %d, want 4", h.PayloadSize)
	}
	if h.SourceID != -7 {
		t.Errorf("SourceID = %d, want -7", h.SourceID)
	}
	if h.DestinationID != 99 {
		t.Errorf("DestinationID = %d, want 99", h.DestinationID)
	}
	if h.TransactionID != 5 {
		t.Errorf("TransactionID = %d, want 5", h.TransactionID)
	}
}

func TestEncodeMatchesInit(t *testing.T) {
	a := make([]byte, Size)
	Init(a, 1, PriorityLow, 0, 3)

	b := make([]byte, Size)
	Encode(b, Decode(a))

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("byte %d differs: %x != %x", i, a[i], b[i])
		}
	}
}

func TestMsgSizeAndIsFullMsg(t *testing.T) {
	buf := make([]byte, Size+10)
	Init(buf, 1, PriorityMid, 10, 0)

	if got := MsgSize(buf); got != Size+10 {
		t.Fatalf("MsgSize = %d, want %d", got, Size+10)
	}

	if err := IsFullMsg(buf, Size+5); err != ErrIncomplete {
		t.Fatalf("IsFullMsg with partial payload = %v, want ErrIncomplete", err)
	}
	if err := IsFullMsg(buf, Size-1); err != ErrIncomplete {
		t.Fatalf("IsFullMsg with partial header = %v, want ErrIncomplete", err)
	}
	if err := IsFullMsg(buf, Size+10); err != nil {
		t.Fatalf("IsFullMsg with full frame = %v, want nil", err)
	}
}

func TestIsReservedID(t *testing.T) {
	if !IsReservedID(ServActive) {
		t.Error("ServActive should be a reserved id")
	}
	if IsReservedID(1) {
		t.Error("1 should not be a reserved id")
	}
}

func TestServActivePayloadRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	EncodeServActivePayload(buf, ServActivePayload{ServiceID: -123})
	got := DecodeServActivePayload(buf)
	if got.ServiceID != -123 {
		t.Errorf("ServiceID = %d, want -123", got.ServiceID)
	}
}

func TestGetSetMsgID(t *testing.T) {
	buf := make([]byte, Size)
	SetMsgID(buf, 7)
	if GetMsgID(buf) != 7 {
		t.Errorf("GetMsgID = %d, want 7", GetMsgID(buf))
	}
}

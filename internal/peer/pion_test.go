package peer

import "testing"

func TestPionTransportCloseIsIdempotent(t *testing.T) {
	tr, err := PionFactory(nil)
	if err != nil {
		t.Fatalf("PionFactory failed: %v", err)
	}

	ch, err := tr.CreateDataChannel("test")
	if err != nil {
		t.Fatalf("CreateDataChannel failed: %v", err)
	}

	// Sends are gated on the channel being open.
	if err := ch.Send([]byte("x")); err == nil {
		t.Error("Send on an unopened channel must fail")
	}

	if err := ch.Close(); err != nil {
		t.Errorf("channel Close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("redundant channel Close failed: %v", err)
	}

	first := tr.Close()
	second := tr.Close()
	if first != nil {
		t.Errorf("transport Close failed: %v", first)
	}
	if second != first {
		t.Errorf("redundant Close returned a different result: %v vs %v", second, first)
	}
}

package protocol

import "testing"

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()

	scratch.Output([]byte{1, 2, 3})
	if scratch.CurPosition() != 3 {
		t.Errorf("Expected position 3, got %d", scratch.CurPosition())
	}

	pos := scratch.CurPosition()
	scratch.Output([]byte{4, 5})
	if since := scratch.DataSince(pos); len(since) != 2 || since[0] != 4 {
		t.Errorf("DataSince(%d) = %v, want [4 5]", pos, since)
	}

	scratch.Update(0, 9)
	if result := scratch.Result(); len(result) != 5 || result[0] != 9 {
		t.Errorf("Result() = %v, want 5 bytes starting with 9", result)
	}

	// Updates past the written data are ignored
	scratch.Update(10, 1)
	if scratch.CurPosition() != 5 {
		t.Errorf("Update past end moved position to %d", scratch.CurPosition())
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 || len(scratch.Result()) != 0 {
		t.Errorf("Reset left %d bytes", scratch.CurPosition())
	}
}

func TestScratchOutputOverflow(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, ScratchSize-1))
	if scratch.Overflow() {
		t.Fatal("overflow reported before the buffer was full")
	}

	scratch.Output([]byte{1, 2})
	if !scratch.Overflow() {
		t.Error("expected overflow")
	}
	if scratch.CurPosition() != ScratchSize {
		t.Errorf("Expected position %d, got %d", ScratchSize, scratch.CurPosition())
	}
}

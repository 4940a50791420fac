package pipeline

import (
	"testing"
)

func TestChannelReadExactlyOnce(t *testing.T) {
	c := NewChannel[int]()
	r := c.NewReader()

	c.Write(1, 2)
	got := r.Read()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Read() = %v, want [1 2]", got)
	}
	if got := r.Read(); len(got) != 0 {
		t.Fatalf("second Read() = %v, want none", got)
	}
}

func TestChannelReaderStartsAtHead(t *testing.T) {
	c := NewChannel[int]()
	c.Write(1)
	r := c.NewReader()
	c.Write(2)

	got := r.Read()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Read() = %v, want only the event after registration", got)
	}
}

func TestChannelReadersIndependent(t *testing.T) {
	c := NewChannel[int]()
	a := c.NewReader()
	b := c.NewReader()
	c.Write(7)

	if got := a.Read(); len(got) != 1 {
		t.Fatalf("a.Read() = %v, want one event", got)
	}
	// a consuming must not advance b.
	if got := b.Read(); len(got) != 1 {
		t.Fatalf("b.Read() = %v, want one event", got)
	}
	if a.ID() == b.ID() {
		t.Fatal("two readers share a registration token")
	}
}

func TestChannelCompactRespectsSlowestReader(t *testing.T) {
	c := NewChannel[int]()
	fast := c.NewReader()
	slow := c.NewReader()

	c.Write(1, 2, 3)
	fast.Read()
	c.Compact()

	if got := slow.Read(); len(got) != 3 {
		t.Fatalf("slow.Read() after Compact = %v, want all three events", got)
	}

	c.Compact()
	c.Write(4)
	if got := fast.Read(); len(got) != 1 || got[0] != 4 {
		t.Fatalf("fast.Read() = %v, want [4]", got)
	}
}

func TestChannelWithoutReadersClearsOnCompact(t *testing.T) {
	c := NewChannel[int]()
	c.Write(1, 2)
	c.Compact()

	// A reader registered afterwards starts at the (now empty) head.
	r := c.NewReader()
	if got := r.Read(); len(got) != 0 {
		t.Fatalf("Read() = %v, want none after compaction", got)
	}
}

package process

import (
	"sync"
	"testing"

	"github.com/YorickPeterse/inko/object"
)

func TestMailbox_FIFO(t *testing.T) {
	t.Parallel()

	var m Mailbox
	for i := int64(0); i < 10; i++ {
		v, _ := object.SmallInt(i)
		m.Push(v)
	}
	if m.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", m.Len())
	}
	for i := int64(0); i < 10; i++ {
		v, ok := m.Pop()
		if !ok || v.SmallIntValue() != i {
			t.Fatalf("message %d dequeued out of order", i)
		}
	}
	if _, ok := m.Pop(); ok {
		t.Fatal("empty mailbox returned a message")
	}
}

func TestMailbox_ChunkBoundaries(t *testing.T) {
	t.Parallel()

	var m Mailbox
	const n = mailChunkSize*3 + 17
	for i := int64(0); i < n; i++ {
		v, _ := object.SmallInt(i)
		m.Push(v)
	}
	for i := int64(0); i < n; i++ {
		v, ok := m.Pop()
		if !ok || v.SmallIntValue() != i {
			t.Fatalf("message %d lost or reordered across chunk boundaries", i)
		}
	}
}

// TestMailbox_PerSenderOrder verifies the FIFO-per-sender guarantee under
// concurrent senders: messages from one sender arrive in send order, with no
// constraint between senders.
func TestMailbox_PerSenderOrder(t *testing.T) {
	t.Parallel()

	var m Mailbox
	const senders = 8
	const perSender = 1000

	var wg sync.WaitGroup
	wg.Add(senders)
	for s := 0; s < senders; s++ {
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				// Encode (sender, sequence) in one immediate.
				v, _ := object.SmallInt(int64(s)*perSender + int64(i))
				m.Push(v)
			}
		}(s)
	}
	wg.Wait()

	lastSeq := make([]int64, senders)
	for i := range lastSeq {
		lastSeq[i] = -1
	}
	count := 0
	for {
		v, ok := m.Pop()
		if !ok {
			break
		}
		n := v.SmallIntValue()
		sender, seq := n/perSender, n%perSender
		if seq <= lastSeq[sender] {
			t.Fatalf("sender %d: sequence %d arrived after %d", sender, seq, lastSeq[sender])
		}
		lastSeq[sender] = seq
		count++
	}
	if count != senders*perSender {
		t.Fatalf("dequeued %d messages, want %d", count, senders*perSender)
	}
}

func TestMailbox_WalkReferences(t *testing.T) {
	t.Parallel()

	var m Mailbox
	a, _ := object.SmallInt(1)
	b, _ := object.SmallInt(2)
	m.Push(a)
	m.Push(b)

	var seen []int64
	m.WalkReferences(func(v *object.Value) {
		seen = append(seen, v.SmallIntValue())
	})
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("walked %v, want [1 2]", seen)
	}
}

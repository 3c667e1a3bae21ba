package process

import (
	"sync"

	"github.com/YorickPeterse/inko/object"
)

// mailChunkSize is the number of messages per chunk node.
const mailChunkSize = 128

// mailChunk is a fixed-size node in the mailbox's chunked linked list, with
// read/write cursors for O(1) push and pop without shifting.
type mailChunk struct {
	values  [mailChunkSize]object.Value
	next    *mailChunk
	readPos int
	pos     int
}

// mailChunkPool recycles chunks across mailboxes.
var mailChunkPool = sync.Pool{
	New: func() any { return &mailChunk{} },
}

func newMailChunk() *mailChunk {
	c := mailChunkPool.Get().(*mailChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

func returnMailChunk(c *mailChunk) {
	for i := 0; i < c.pos; i++ {
		c.values[i] = object.Value{}
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	mailChunkPool.Put(c)
}

// Mailbox is the unbounded FIFO of incoming messages, owned by the receiving
// process.
//
// Enqueue is atomic with respect to other senders (internal mutex); dequeue
// is performed only by the owner, but also takes the mutex so the owner's
// pop is atomic with concurrent pushes. Messages from one sender arrive in
// send order; no order is guaranteed between distinct senders.
type Mailbox struct {
	mu     sync.Mutex
	head   *mailChunk
	tail   *mailChunk
	length int
}

// Push enqueues a message. THREAD SAFE.
func (m *Mailbox) Push(v object.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tail == nil {
		m.tail = newMailChunk()
		m.head = m.tail
	}
	if m.tail.pos == mailChunkSize {
		t := newMailChunk()
		m.tail.next = t
		m.tail = t
	}
	m.tail.values[m.tail.pos] = v
	m.tail.pos++
	m.length++
}

// Pop dequeues the head message, returning false when empty. Owner only.
func (m *Mailbox) Pop() (object.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.head != nil {
		if m.head.readPos < m.head.pos {
			v := m.head.values[m.head.readPos]
			m.head.values[m.head.readPos] = object.Value{}
			m.head.readPos++
			m.length--

			if m.head.readPos >= m.head.pos && m.head != m.tail {
				old := m.head
				m.head = m.head.next
				returnMailChunk(old)
			}
			return v, true
		}
		if m.head == m.tail {
			m.head.pos = 0
			m.head.readPos = 0
			return object.Value{}, false
		}
		old := m.head
		m.head = m.head.next
		returnMailChunk(old)
	}
	return object.Value{}, false
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length
}

// WalkReferences visits every queued message slot under the mailbox lock.
// Mailbox contents are GC roots of the owning process.
func (m *Mailbox) WalkReferences(fn func(*object.Value)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := m.head; c != nil; c = c.next {
		for i := c.readPos; i < c.pos; i++ {
			fn(&c.values[i])
		}
	}
}

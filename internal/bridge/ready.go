package bridge

// readyBuffer is the per-handle FIFO of translated records awaiting delivery.
// It is touched only by the handle's consumer goroutine and has no locking.
type readyBuffer struct {
	items []Record
	head  int
}

func (b *readyBuffer) push(recs ...Record) {
	if b.head > 0 && b.head == len(b.items) {
		b.items = b.items[:0]
		b.head = 0
	}
	b.items = append(b.items, recs...)
}

func (b *readyBuffer) pop() (Record, bool) {
	if b.head >= len(b.items) {
		return Record{}, false
	}
	rec := b.items[b.head]
	b.items[b.head] = Record{}
	b.head++
	if b.head == len(b.items) {
		b.items = b.items[:0]
		b.head = 0
	}
	return rec, true
}

func (b *readyBuffer) len() int {
	return len(b.items) - b.head
}

// flush releases every resident record and returns how many there were.
func (b *readyBuffer) flush() int {
	n := 0
	for {
		rec, ok := b.pop()
		if !ok {
			break
		}
		rec.Release()
		n++
	}
	b.items = nil
	return n
}

package smartaudio

const queueSize = 4

// queue is a fixed-capacity FIFO of pending requests.
type queue struct {
	slots [queueSize]frame
	head  int
	count int
}

// push appends f, returning false (and dropping f) when the queue is full.
func (q *queue) push(f frame) bool {
	if q.count == queueSize {
		return false
	}
	q.slots[(q.head+q.count)%queueSize] = f
	q.count++
	return true
}

func (q *queue) front() (*frame, bool) {
	if q.count == 0 {
		return nil, false
	}
	return &q.slots[q.head], true
}

func (q *queue) pop() {
	if q.count == 0 {
		return
	}
	q.head = (q.head + 1) % queueSize
	q.count--
}

func (q *queue) len() int { return q.count }

func (q *queue) reset() { q.head, q.count = 0, 0 }

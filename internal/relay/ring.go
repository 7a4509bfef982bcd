package relay

// RingBuffer 固定容量的消息回放缓冲，写满后覆盖最旧的槽位。
// 只被核心循环单线程访问，不加锁。
type RingBuffer struct {
	buf   [][]byte
	head  int
	count int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([][]byte, capacity)}
}

func (r *RingBuffer) Push(frame []byte) {
	r.buf[r.head] = frame
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *RingBuffer) Len() int { return r.count }

// Snapshot 按插入顺序（旧到新）返回当前内容的拷贝，是一次性的快照而非订阅。
func (r *RingBuffer) Snapshot() [][]byte {
	out := make([][]byte, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

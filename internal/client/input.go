package client

// BufferedInput 缓冲的未确认输入
type BufferedInput struct {
	Seq       int32
	TargetX   float64
	TargetZ   float64
	ActionID  int32
	CreatedAt int64
}

// InputBuffer 输入序列器：给出站意图分配单调递增序号，
// 保留未被服务器确认的输入用于重放。
// 序号从 1 开始，会话内永不复用；确认是累积的。
type InputBuffer struct {
	clock Clock

	nextSeq   int32
	ackCursor int32
	entries   []BufferedInput
	capacity  int
}

// NewInputBuffer 创建输入缓冲区
func NewInputBuffer(clock Clock, capacity int) *InputBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &InputBuffer{
		clock:    clock,
		capacity: capacity,
		entries:  make([]BufferedInput, 0, capacity),
	}
}

// Add 分配下一个序号并缓冲输入，超出容量时淘汰最旧的一条
func (b *InputBuffer) Add(targetX, targetZ float64, actionID int32) int32 {
	b.nextSeq++
	b.entries = append(b.entries, BufferedInput{
		Seq:       b.nextSeq,
		TargetX:   targetX,
		TargetZ:   targetZ,
		ActionID:  actionID,
		CreatedAt: b.clock.NowMs(),
	})
	if len(b.entries) > b.capacity {
		b.entries = b.entries[len(b.entries)-b.capacity:]
	}
	return b.nextSeq
}

// Acknowledge 累积确认：丢弃所有序号 ≤ cursor 的输入。
// 过期或重复的确认是空操作，乱序到达也不会出错。
func (b *InputBuffer) Acknowledge(cursor int32) {
	if cursor <= b.ackCursor {
		return
	}
	b.ackCursor = cursor

	keep := 0
	for ; keep < len(b.entries); keep++ {
		if b.entries[keep].Seq > cursor {
			break
		}
	}
	if keep > 0 {
		b.entries = append(b.entries[:0], b.entries[keep:]...)
	}
}

// Unacknowledged 返回未确认输入的快照副本（按序号升序）。
// 返回副本是为了重放过程中缓冲区被修改也不会破坏遍历。
func (b *InputBuffer) Unacknowledged() []BufferedInput {
	out := make([]BufferedInput, len(b.entries))
	copy(out, b.entries)
	return out
}

// AckCursor 服务器已处理的最大序号
func (b *InputBuffer) AckCursor() int32 {
	return b.ackCursor
}

// Len 当前缓冲的输入数量
func (b *InputBuffer) Len() int {
	return len(b.entries)
}

// Clear 清空缓冲区（重连后使用）。序号计数器保留，保证会话内不复用。
func (b *InputBuffer) Clear() {
	b.entries = b.entries[:0]
}

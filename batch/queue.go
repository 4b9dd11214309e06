package batch

import (
	"time"

	"github.com/gammazero/deque"
)

// priorityQueues 四个按优先级划分的 FIFO 队列
// 只在持有 Processor.mu 时访问
type priorityQueues struct {
	queues [numPriorities]deque.Deque[*Request]
}

func (q *priorityQueues) push(req *Request) {
	q.queues[req.Priority].PushBack(req)
}

// len 所有队列的排队总数
func (q *priorityQueues) len() int {
	n := 0
	for i := range q.queues {
		n += q.queues[i].Len()
	}
	return n
}

func (q *priorityQueues) lenOf(p Priority) int {
	return q.queues[p].Len()
}

// drain 按 critical -> high -> normal -> low 顺序取出至多 n 个请求，同级保持入队顺序
func (q *priorityQueues) drain(n int) []*Request {
	if n <= 0 {
		return nil
	}
	out := make([]*Request, 0, min(n, q.len()))
	for _, p := range priorities {
		dq := &q.queues[p]
		for dq.Len() > 0 && len(out) < n {
			out = append(out, dq.PopFront())
		}
		if len(out) == n {
			break
		}
	}
	return out
}

// drainAll 清空所有队列
func (q *priorityQueues) drainAll() []*Request {
	out := make([]*Request, 0, q.len())
	for _, p := range priorities {
		dq := &q.queues[p]
		for dq.Len() > 0 {
			out = append(out, dq.PopFront())
		}
	}
	return out
}

// oldest 返回最早入队请求的入队时间，队列为空时 ok 为 false
// 每个队列内部按入队时间有序，只需比较队首
func (q *priorityQueues) oldest() (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for i := range q.queues {
		dq := &q.queues[i]
		if dq.Len() == 0 {
			continue
		}
		at := dq.Front().EnqueuedAt
		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}
	return earliest, found
}

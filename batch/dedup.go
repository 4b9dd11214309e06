package batch

import "time"

// dedupEntry 去重表条目
type dedupEntry struct {
	requestID  string
	insertedAt time.Time
	future     *Future
}

// dedupTable 去重键到原始请求的短期映射
// 条目自插入起在 window 内有效，与原始请求是否已完成或正在重试无关
type dedupTable struct {
	window  time.Duration
	entries map[string]dedupEntry
}

func newDedupTable(window time.Duration) *dedupTable {
	return &dedupTable{
		window:  window,
		entries: make(map[string]dedupEntry),
	}
}

// lookup 返回 key 的有效条目，过期条目顺便删除
func (t *dedupTable) lookup(key string, now time.Time) (dedupEntry, bool) {
	e, ok := t.entries[key]
	if !ok {
		return dedupEntry{}, false
	}
	if now.Sub(e.insertedAt) >= t.window {
		delete(t.entries, key)
		return dedupEntry{}, false
	}
	return e, true
}

func (t *dedupTable) register(key string, req *Request, now time.Time) {
	t.entries[key] = dedupEntry{
		requestID:  req.ID,
		insertedAt: now,
		future:     req.future,
	}
}

// prune 删除所有过期条目，返回删除数量
func (t *dedupTable) prune(now time.Time) int {
	removed := 0
	for key, e := range t.entries {
		if now.Sub(e.insertedAt) >= t.window {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

func (t *dedupTable) len() int {
	return len(t.entries)
}

func (t *dedupTable) clear() {
	clear(t.entries)
}

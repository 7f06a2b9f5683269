package fileedit

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// 远端协作者的光标记录
type CursorRecord struct {
	User     User   `json:"user"`
	Position int    `json:"position"`
	Color    string `json:"color"`
}

type RosterEntry struct {
	User     User      `json:"user"`
	JoinedAt time.Time `json:"joinedAt"`
}

// 光标颜色盘。颜色由 userID 的 FNV-1a 哈希决定，
// 同一用户重连后颜色不变。
var cursorPalette = []string{
	"#e74c3c", "#e67e22", "#f1c40f", "#2ecc71",
	"#1abc9c", "#3498db", "#9b59b6", "#fd79a8",
}

func CursorColor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}

// Tracker：维护一个文件房间的在线名单与光标位置。
// - 名单按 userID 去重
// - leave 时同时删除光标记录
type Tracker struct {
	mu      sync.Mutex
	local   User
	roster  map[string]RosterEntry
	cursors map[string]CursorRecord
}

func NewTracker(local User) *Tracker {
	t := &Tracker{
		local:   local,
		roster:  make(map[string]RosterEntry),
		cursors: make(map[string]CursorRecord),
	}
	// 本地用户必然在名单里
	t.roster[local.ID] = RosterEntry{User: local, JoinedAt: time.Now()}
	return t
}

// Join：加入名单（已存在则不重复）。返回是否新加入。
func (t *Tracker) Join(u User) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.roster[u.ID]; ok {
		return false
	}
	t.roster[u.ID] = RosterEntry{User: u, JoinedAt: time.Now()}
	// 光标先落在 0，收到第一条 cursorMove 后覆盖
	if u.ID != t.local.ID {
		t.cursors[u.ID] = CursorRecord{User: u, Position: 0, Color: CursorColor(u.ID)}
	}
	return true
}

func (t *Tracker) Leave(u User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.roster, u.ID)
	delete(t.cursors, u.ID)
}

// SetCursor：upsert 光标位置（同一用户只有一条记录）
func (t *Tracker) SetCursor(u User, position int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursors[u.ID] = CursorRecord{User: u, Position: position, Color: CursorColor(u.ID)}
	// 有光标说明人在线，顺带补进名单
	if _, ok := t.roster[u.ID]; !ok {
		t.roster[u.ID] = RosterEntry{User: u, JoinedAt: time.Now()}
	}
}

// Seed：开会话时的名单对账——合并文档里持久化的协作者列表，
// 本地用户保证在场（服务端可能还没写入）。
func (t *Tracker) Seed(persisted []User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range persisted {
		if _, ok := t.roster[u.ID]; !ok {
			t.roster[u.ID] = RosterEntry{User: u, JoinedAt: time.Now()}
		}
	}
}

// ReplaceLive：以广播通道给出的在线快照为准重建名单，
// 持久化名单让位于实时 presence；本地用户仍然保底在场。
func (t *Tracker) ReplaceLive(live []User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.roster
	t.roster = make(map[string]RosterEntry, len(live)+1)
	keep := func(u User) {
		if e, ok := old[u.ID]; ok {
			t.roster[u.ID] = e
		} else {
			t.roster[u.ID] = RosterEntry{User: u, JoinedAt: time.Now()}
		}
	}
	for _, u := range live {
		keep(u)
	}
	keep(t.local)
	// 不在线的光标一并清掉
	for id := range t.cursors {
		if _, ok := t.roster[id]; !ok {
			delete(t.cursors, id)
		}
	}
}

// Roster：返回按 userID 排序的名单快照（展示层直接用）
func (t *Tracker) Roster() []RosterEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RosterEntry, 0, len(t.roster))
	for _, e := range t.roster {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out
}

func (t *Tracker) Cursors() map[string]CursorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]CursorRecord, len(t.cursors))
	for id, c := range t.cursors {
		out[id] = c
	}
	return out
}

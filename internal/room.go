package internal

import (
	"sync"
	"time"
)

// 系統設計問題：
//   多名參與者同時編輯同一份心智圖，如何保證每個人看到一致的結果？
//
// 核心挑戰：
//   1. 並發控制：兩個近乎同時的編輯落在同一節點
//   2. 順序保證：廣播順序必須等於服務器處理順序
//   3. 樹完整性：根節點不可刪除/移動、移動不可成環
//   4. 同步基準：客戶端需要單調版本號判斷自己是否落後
//
// 設計方案：
//   ✅ 單一權威副本 - 每房間一份內存樹，以到達順序套用（last-writer-wins）
//   ✅ 房間級互斥鎖 - 同房間的文檔與 presence 變更共用一個序列化域
//   ✅ 單調版本號 - 每次成功變更恰好 +1，失敗不變
//   ✅ 深拷貝快照 - Snapshot 回傳的狀態與權威副本完全隔離
//
// 為什麼不用 CRDT / OT？
//   心智圖編輯頻率低（人類速度）、房間規模小，
//   嚴格到達順序 + 全量重同步已足夠；合併代數的複雜度在這裡買不到東西。

// participantColors 參與者顏色調色盤
//
// 固定小調色盤：加入時優先挑選未被占用的顏色，
// 用罄後退化為 round-robin（顏色重複但不阻擋加入）。
var participantColors = []string{
	"#ef4444", // red
	"#f97316", // orange
	"#eab308", // yellow
	"#22c55e", // green
	"#06b6d4", // cyan
	"#3b82f6", // blue
	"#8b5cf6", // violet
	"#ec4899", // pink
}

// User 加入房間時客戶端提供的使用者資訊
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Cursor 游標座標
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant 房間參與者
//
// Cursor 與 SelectedNodeID 屬於 presence：可自由變動、
// 不納入版本計數（presence 不是可重放的文檔歷史）。
type Participant struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	Avatar         string    `json:"avatar"`
	Color          string    `json:"color"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastActivity   time.Time `json:"lastActivity"`
	Cursor         *Cursor   `json:"cursor,omitempty"`
	SelectedNodeID string    `json:"selectedNodeId,omitempty"`
}

// MutationResult 樹變更結果
//
// 樹變更永不拋出：回傳可檢視的結果，
// 失敗時 Version 維持變更前的值。
type MutationResult struct {
	Success bool `json:"success"`
	Version int  `json:"version"`
}

// RoomSnapshot 深拷貝的房間狀態快照（sync:full 的負載）
type RoomSnapshot struct {
	Mindmap      MindmapState   `json:"mindmap"`
	Participants []*Participant `json:"participants"`
	Version      int            `json:"version"`
}

// Room 協作房間
//
// 並發契約：同一房間的所有變更（文檔 + presence）由 Mu 序列化，
// 且路由層把事件構建與扇出入隊一併納入同一臨界區 -
// 廣播順序因此恆等於服務器處理順序。
// 房間級鎖而非全域鎖 - 不相關房間的編輯互不阻塞。
// 扇出只是非阻塞的緩衝 channel 入隊（見 websocket.go），
// 真正的 socket I/O 在各連接的寫 goroutine 裡，變更路徑永不阻塞。
type Room struct {
	ID           string                  `json:"id"`
	Version      int                     `json:"version"`
	Mindmap      MindmapState            `json:"mindmapState"`
	Participants map[string]*Participant `json:"participants"`
	HostID       string                  `json:"hostId"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`

	Mu         sync.Mutex `json:"-"`
	lastActive time.Time  // 最後活動時間（過期清理用）
	colorIdx   int        // 調色盤用罄後的 round-robin 游標
}

// NewRoom 創建房間
//
// 版本號從 1 起算；host 立即成為第一位參與者並取得調色盤顏色。
func NewRoom(id string, host User, root *MindmapNode) *Room {
	now := time.Now()
	room := &Room{
		ID:      id,
		Version: 1,
		Mindmap: MindmapState{
			Root:      root,
			UpdatedAt: now,
		},
		Participants: make(map[string]*Participant),
		HostID:       host.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		lastActive:   now,
	}
	room.Participants[host.ID] = room.newParticipant(host)
	return room
}

// newParticipant 建立參與者並分配顏色（需要持有鎖或在建構期呼叫）
func (r *Room) newParticipant(user User) *Participant {
	now := time.Now()
	return &Participant{
		ID:           user.ID,
		DisplayName:  user.Name,
		Avatar:       user.Avatar,
		Color:        r.assignColor(),
		JoinedAt:     now,
		LastActivity: now,
	}
}

// assignColor 分配參與者顏色
func (r *Room) assignColor() string {
	used := make(map[string]bool, len(r.Participants))
	for _, p := range r.Participants {
		used[p.Color] = true
	}
	for _, color := range participantColors {
		if !used[color] {
			return color
		}
	}
	// 調色盤用罄，round-robin
	color := participantColors[r.colorIdx%len(participantColors)]
	r.colorIdx++
	return color
}

// AddParticipant 加入參與者（同 userId 重複加入視為 upsert，重新分配顏色與時間）
func (r *Room) AddParticipant(user User) *Participant {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	participant := r.newParticipant(user)
	r.Participants[user.ID] = participant
	r.touchLocked()
	return participant
}

// RemoveParticipant 移除參與者，回傳剩餘人數
func (r *Room) RemoveParticipant(userID string) int {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	delete(r.Participants, userID)
	r.touchLocked()
	return len(r.Participants)
}

// ParticipantCount 參與者人數
func (r *Room) ParticipantCount() int {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return len(r.Participants)
}

// AddNode 在 parentID 下追加節點
//
// 父節點不存在時失敗、版本不變。
// 節點 id 由呼叫方先行正規化（缺失時已補發 uuid）。
func (r *Room) AddNode(userID string, node *MindmapNode, parentID string) MutationResult {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.addNodeLocked(userID, node, parentID)
}

func (r *Room) addNodeLocked(userID string, node *MindmapNode, parentID string) MutationResult {
	parent := findNode(r.Mindmap.Root, parentID)
	if parent == nil || node == nil {
		return MutationResult{Success: false, Version: r.Version}
	}

	parent.Children = append(parent.Children, node)
	return r.bumpVersionLocked(userID)
}

// UpdateNode 淺合併 changes 到節點
//
// 變更補丁先剔除 id（節點身份不可經由 update 改變），
// 再套用已知欄位：label（與舊形態 text）。
func (r *Room) UpdateNode(userID, nodeID string, changes map[string]any) MutationResult {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.updateNodeLocked(userID, nodeID, changes)
}

func (r *Room) updateNodeLocked(userID, nodeID string, changes map[string]any) MutationResult {
	node := findNode(r.Mindmap.Root, nodeID)
	if node == nil {
		return MutationResult{Success: false, Version: r.Version}
	}

	if label, ok := changes["label"].(string); ok {
		node.Label = label
	} else if text, ok := changes["text"].(string); ok {
		node.Label = text
	}

	return r.bumpVersionLocked(userID)
}

// DeleteNode 刪除節點（連同子樹）
//
// 拒絕刪除根節點；失敗時版本不變。
func (r *Room) DeleteNode(userID, nodeID string) MutationResult {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.deleteNodeLocked(userID, nodeID)
}

func (r *Room) deleteNodeLocked(userID, nodeID string) MutationResult {
	if r.Mindmap.Root != nil && nodeID == r.Mindmap.Root.ID {
		return MutationResult{Success: false, Version: r.Version}
	}

	parent := findParent(r.Mindmap.Root, nodeID)
	if parent == nil {
		return MutationResult{Success: false, Version: r.Version}
	}

	for i, child := range parent.Children {
		if child.ID == nodeID {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}

	return r.bumpVersionLocked(userID)
}

// MoveNode 將節點移到新父節點下
//
// 環路檢查：newParentID 等於 nodeID 或落在 nodeID 的子樹內時拒絕，
// 否則一次脫鏈、一次掛鏈。根節點永不移動。
func (r *Room) MoveNode(userID, nodeID, newParentID string) MutationResult {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.moveNodeLocked(userID, nodeID, newParentID)
}

func (r *Room) moveNodeLocked(userID, nodeID, newParentID string) MutationResult {
	if r.Mindmap.Root != nil && nodeID == r.Mindmap.Root.ID {
		return MutationResult{Success: false, Version: r.Version}
	}

	node := findNode(r.Mindmap.Root, nodeID)
	parent := findParent(r.Mindmap.Root, nodeID)
	newParent := findNode(r.Mindmap.Root, newParentID)
	if node == nil || parent == nil || newParent == nil {
		return MutationResult{Success: false, Version: r.Version}
	}

	// 環路檢查：不可移動成自己（的後代）
	if nodeID == newParentID || subtreeContains(node, newParentID) {
		return MutationResult{Success: false, Version: r.Version}
	}

	for i, child := range parent.Children {
		if child.ID == nodeID {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	newParent.Children = append(newParent.Children, node)

	return r.bumpVersionLocked(userID)
}

// UpdateCursor 更新游標位置（presence，不計版本）
func (r *Room) UpdateCursor(userID string, cursor Cursor) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.updateCursorLocked(userID, cursor)
}

func (r *Room) updateCursorLocked(userID string, cursor Cursor) bool {
	participant, exists := r.Participants[userID]
	if !exists {
		return false
	}
	participant.Cursor = &Cursor{X: cursor.X, Y: cursor.Y}
	participant.LastActivity = time.Now()
	r.lastActive = time.Now()
	return true
}

// UpdateSelection 更新選取節點（presence，不計版本；空字串代表取消選取）
func (r *Room) UpdateSelection(userID, nodeID string) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.updateSelectionLocked(userID, nodeID)
}

func (r *Room) updateSelectionLocked(userID, nodeID string) bool {
	participant, exists := r.Participants[userID]
	if !exists {
		return false
	}
	participant.SelectedNodeID = nodeID
	participant.LastActivity = time.Now()
	r.lastActive = time.Now()
	return true
}

// Snapshot 取得深拷貝快照（全量重同步用）
func (r *Room) Snapshot() RoomSnapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	participants := make([]*Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		clone := *p
		if p.Cursor != nil {
			cursor := *p.Cursor
			clone.Cursor = &cursor
		}
		participants = append(participants, &clone)
	}

	return RoomSnapshot{
		Mindmap: MindmapState{
			Root:      cloneNode(r.Mindmap.Root),
			UpdatedAt: r.Mindmap.UpdatedAt,
		},
		Participants: participants,
		Version:      r.Version,
	}
}

// IsStale 檢查房間是否超過閒置門檻
func (r *Room) IsStale(timeout time.Duration) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return time.Since(r.lastActive) > timeout
}

// NodeCount 文檔節點數（統計用）
func (r *Room) NodeCount() int {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return countNodes(r.Mindmap.Root)
}

// bumpVersionLocked 成功變更後遞增版本（需要持有鎖）
func (r *Room) bumpVersionLocked(userID string) MutationResult {
	r.Version++
	r.Mindmap.UpdatedAt = time.Now()
	if participant, exists := r.Participants[userID]; exists {
		participant.LastActivity = time.Now()
	}
	r.touchLocked()
	return MutationResult{Success: true, Version: r.Version}
}

// touchLocked 更新活動時間（需要持有鎖）
func (r *Room) touchLocked() {
	now := time.Now()
	r.lastActive = now
	r.UpdatedAt = now
}

package internal

import (
	"log/slog"
)

// 系統設計問題：
//   十餘種訊息類型、前置條件各異（是否已入房、是否為 host），
//   如何讓一條畸形訊息永遠不可能拖垮整個房間？
//
// 設計方案：
//   ✅ 單一分發器 - 以 message.type 為鍵的 switch，未知類型記錄後丟棄
//   ✅ 前置條件靜默化 - 未入房連接的節點/游標操作直接忽略（不回錯誤），
//     容忍客戶端在（重）連接前後的競態
//   ✅ 協議級錯誤單播化 - 房間級違規（加入不存在的房間、非 host 關房）
//     回覆型別化 error 事件，永不廣播
//   ✅ ack 解耦 - 變更成功後先廣播給其他人（帶新版本號），
//     再單獨對發起者回 sync:ack{version}；發起者永遠收不到自己的廣播
//   ✅ 鎖內扇出 - 變更、事件構建與扇出入隊都在房間鎖的臨界區內完成，
//     廣播順序恆等於處理順序；入隊非阻塞，失敗者記下、鎖外驅逐

// Router 訊息路由器
type Router struct {
	registry  *Registry
	manager   *Manager
	messenger *Messenger
	logger    *slog.Logger
}

// NewRouter 創建路由器並掛上連接脫離回調
//
// 註冊表在註銷仍綁定房間的連接時，需要走與 room:leave
// 相同的脫離流程（移除參與者、廣播 user:leave、空房連鎖關閉）。
func NewRouter(registry *Registry, manager *Manager, messenger *Messenger, logger *slog.Logger) *Router {
	router := &Router{
		registry:  registry,
		manager:   manager,
		messenger: messenger,
		logger:    logger,
	}
	registry.OnDetach(router.detachRoom)
	return router
}

// HandleMessage 處理一條入站訊息
//
// 任何入站訊息（包含 pong）都刷新連接活性。
func (rt *Router) HandleMessage(connectionID string, message CollabMessage) {
	conn := rt.registry.Get(connectionID)
	if conn == nil {
		rt.logger.Warn("來自未知連接的訊息", "connection_id", connectionID)
		return
	}

	conn.Touch()

	rt.logger.Debug("收到訊息",
		"connection_id", connectionID,
		"user_id", conn.UserID,
		"type", message.Type)

	switch message.Type {
	case MsgPing:
		rt.messenger.SendToConnection(connectionID, NewEvent(EventPong, conn.RoomID()))

	case MsgPong:
		// Touch 已刷新活性

	case MsgRoomCreate:
		rt.handleCreateRoom(conn, message.Data)

	case MsgRoomJoin:
		rt.handleJoinRoom(conn, message.RoomID, message.Data)

	case MsgRoomLeave:
		rt.handleLeaveRoom(conn)

	case MsgRoomClose:
		rt.handleCloseRoom(conn)

	case MsgCursorMove:
		rt.handleCursorMove(conn, message.Data)

	case MsgNodeSelect:
		rt.handleNodeSelect(conn, message.Data)

	case MsgNodeAdd:
		rt.handleNodeAdd(conn, message.Data)

	case MsgNodeUpdate:
		rt.handleNodeUpdate(conn, message.Data)

	case MsgNodeDelete:
		rt.handleNodeDelete(conn, message.Data)

	case MsgNodeMove:
		rt.handleNodeMove(conn, message.Data)

	case MsgSyncRequest:
		rt.handleSyncRequest(conn)

	default:
		rt.logger.Warn("未知訊息類型，丟棄",
			"type", message.Type,
			"connection_id", connectionID)
	}
}

// handleCreateRoom 創建房間
//
// 已在別的房間時先隱式離開（一條連接同時至多一個房間）。
func (rt *Router) handleCreateRoom(conn *Connection, data map[string]any) {
	if conn.RoomID() != "" {
		rt.handleLeaveRoom(conn)
	}

	user, ok := decodeUser(data["user"])
	if !ok {
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Invalid user"))
		return
	}

	root := decodeRoot(data["mindmap"])
	if root == nil {
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Invalid mindmap"))
		return
	}

	room := rt.manager.CreateRoom(user, root)
	rt.registry.BindRoom(conn, room.ID)

	snapshot := room.Snapshot()
	event := NewEvent(EventRoomCreated, room.ID)
	event.Data = map[string]any{
		"mindmap":      snapshot.Mindmap,
		"participants": snapshot.Participants,
		"version":      snapshot.Version,
	}
	rt.messenger.SendToConnection(conn.ID, event)
}

// handleJoinRoom 加入房間
//
// 房間不存在是協議級錯誤（型別化 error 事件），不是傳輸故障。
// 成功時對加入者單播 sync:full、對其餘人廣播 user:join。
func (rt *Router) handleJoinRoom(conn *Connection, roomID string, data map[string]any) {
	if conn.RoomID() != "" {
		rt.handleLeaveRoom(conn)
	}

	user, ok := decodeUser(data["user"])
	if !ok {
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Invalid user"))
		return
	}

	room, participant := rt.manager.JoinRoom(roomID, user)
	if room == nil {
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Room not found"))
		return
	}

	rt.registry.BindRoom(conn, roomID)

	snapshot := room.Snapshot()
	full := NewEvent(EventSyncFull, roomID)
	full.Data = map[string]any{
		"mindmap":      snapshot.Mindmap,
		"participants": snapshot.Participants,
		"version":      snapshot.Version,
	}
	rt.messenger.SendToConnection(conn.ID, full)

	join := NewEvent(EventUserJoin, roomID)
	join.UserID = user.ID
	join.Data = map[string]any{"user": participant}
	rt.messenger.BroadcastToRoom(roomID, join, conn.ID)
}

// handleLeaveRoom 離開房間（未入房為 no-op）
func (rt *Router) handleLeaveRoom(conn *Connection) {
	if conn.RoomID() == "" {
		return
	}
	rt.detachRoom(conn)
}

// detachRoom 連接脫離房間的共同路徑
//
// room:leave 與連接註銷（斷線、心跳驅逐、寫入失敗）共用：
// 解除索引綁定 → 移除參與者（空房連鎖關閉）→ 對剩餘人廣播 user:leave。
func (rt *Router) detachRoom(conn *Connection) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	rt.registry.UnbindRoom(conn)
	rt.manager.LeaveRoom(roomID, conn.UserID)

	leave := NewEvent(EventUserLeave, roomID)
	leave.UserID = conn.UserID
	rt.messenger.BroadcastToRoom(roomID, leave, conn.ID)
}

// handleCloseRoom 關閉房間（host 限定）
//
// 授權檢查：room.hostId 必須等於連接的 userId，否則回覆 error 事件。
// 成功時對全房間（含 host 自己）廣播 room:closed，
// 再解除每條連接的綁定並銷毀房間。
func (rt *Router) handleCloseRoom(conn *Connection) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	if room.HostID != conn.UserID {
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Only host can close room"))
		return
	}

	closed := NewEvent(EventRoomClosed, roomID)
	closed.UserID = conn.UserID
	rt.messenger.BroadcastToRoom(roomID, closed, "")

	for _, member := range rt.registry.RoomConnections(roomID) {
		rt.registry.UnbindRoom(member)
	}

	rt.manager.CloseRoom(roomID)
}

// handleCursorMove 游標移動（presence，未入房靜默忽略）
func (rt *Router) handleCursorMove(conn *Connection, data map[string]any) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	cursor, ok := decodeCursor(data["cursor"])
	if !ok {
		return
	}

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	room.Mu.Lock()
	if !room.updateCursorLocked(conn.UserID, cursor) {
		room.Mu.Unlock()
		return
	}
	event := NewEvent(EventUserCursor, roomID)
	event.UserID = conn.UserID
	event.Data = map[string]any{"cursor": cursor}
	failed := rt.messenger.DeliverToRoom(roomID, event, conn.ID)
	room.Mu.Unlock()

	rt.evictFailed(failed)
}

// handleNodeSelect 節點選取（presence，未入房靜默忽略）
func (rt *Router) handleNodeSelect(conn *Connection, data map[string]any) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	nodeID, _ := data["nodeId"].(string)

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	room.Mu.Lock()
	if !room.updateSelectionLocked(conn.UserID, nodeID) {
		room.Mu.Unlock()
		return
	}
	event := NewEvent(EventUserSelect, roomID)
	event.UserID = conn.UserID
	event.Data = map[string]any{"nodeId": nodeID}
	failed := rt.messenger.DeliverToRoom(roomID, event, conn.ID)
	room.Mu.Unlock()

	rt.evictFailed(failed)
}

// handleNodeAdd 新增節點
func (rt *Router) handleNodeAdd(conn *Connection, data map[string]any) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	nodeRaw, _ := data["node"].(map[string]any)
	parentID, _ := data["parentId"].(string)
	node := NormalizeNode(nodeRaw)

	room.Mu.Lock()
	result := room.addNodeLocked(conn.UserID, node, parentID)
	if !result.Success {
		room.Mu.Unlock()
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Failed to add node"))
		return
	}

	event := NewEvent(EventNodeAdd, roomID)
	event.UserID = conn.UserID
	event.Version = result.Version
	// 負載用深拷貝：node 指標已掛進權威樹，
	// 鎖外序列化會與後續掛在它底下的變更競爭
	event.Data = map[string]any{"node": cloneNode(node), "parentId": parentID}
	failed := rt.dispatchMutationLocked(conn, roomID, event, result.Version)
	room.Mu.Unlock()

	rt.evictFailed(failed)
}

// handleNodeUpdate 更新節點
func (rt *Router) handleNodeUpdate(conn *Connection, data map[string]any) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	nodeID, _ := data["nodeId"].(string)
	changes, _ := data["changes"].(map[string]any)

	room.Mu.Lock()
	result := room.updateNodeLocked(conn.UserID, nodeID, changes)
	if !result.Success {
		room.Mu.Unlock()
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Failed to update node"))
		return
	}

	event := NewEvent(EventNodeUpdate, roomID)
	event.UserID = conn.UserID
	event.Version = result.Version
	event.Data = map[string]any{"nodeId": nodeID, "changes": changes}
	failed := rt.dispatchMutationLocked(conn, roomID, event, result.Version)
	room.Mu.Unlock()

	rt.evictFailed(failed)
}

// handleNodeDelete 刪除節點
func (rt *Router) handleNodeDelete(conn *Connection, data map[string]any) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	nodeID, _ := data["nodeId"].(string)

	room.Mu.Lock()
	result := room.deleteNodeLocked(conn.UserID, nodeID)
	if !result.Success {
		room.Mu.Unlock()
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Failed to delete node"))
		return
	}

	event := NewEvent(EventNodeDelete, roomID)
	event.UserID = conn.UserID
	event.Version = result.Version
	event.Data = map[string]any{"nodeId": nodeID}
	failed := rt.dispatchMutationLocked(conn, roomID, event, result.Version)
	room.Mu.Unlock()

	rt.evictFailed(failed)
}

// handleNodeMove 移動節點
func (rt *Router) handleNodeMove(conn *Connection, data map[string]any) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	room := rt.manager.GetRoom(roomID)
	if room == nil {
		return
	}

	nodeID, _ := data["nodeId"].(string)
	newParentID, _ := data["newParentId"].(string)

	room.Mu.Lock()
	result := room.moveNodeLocked(conn.UserID, nodeID, newParentID)
	if !result.Success {
		room.Mu.Unlock()
		rt.messenger.SendToConnection(conn.ID, ErrorEvent("Failed to move node"))
		return
	}

	event := NewEvent(EventNodeMove, roomID)
	event.UserID = conn.UserID
	event.Version = result.Version
	event.Data = map[string]any{"nodeId": nodeID, "targetParentId": newParentID}
	failed := rt.dispatchMutationLocked(conn, roomID, event, result.Version)
	room.Mu.Unlock()

	rt.evictFailed(failed)
}

// handleSyncRequest 全量重同步（未入房靜默忽略）
func (rt *Router) handleSyncRequest(conn *Connection) {
	roomID := conn.RoomID()
	if roomID == "" {
		return
	}

	snapshot := rt.manager.Snapshot(roomID)
	if snapshot == nil {
		return
	}

	full := NewEvent(EventSyncFull, roomID)
	full.Data = map[string]any{
		"mindmap":      snapshot.Mindmap,
		"participants": snapshot.Participants,
		"version":      snapshot.Version,
	}
	rt.messenger.SendToConnection(conn.ID, full)
}

// dispatchMutationLocked 變更成功後的投遞順序（需要持有房間鎖）
//
// 先對其他人廣播（帶新版本號），再單獨對發起者回 sync:ack。
// 發起者不收自己的廣播，版本確認走獨立的 ack 通道。
//
// 在臨界區內入隊保證廣播順序等於版本順序；入隊是非阻塞的，
// 失敗的連接 id 回傳給呼叫方在鎖外驅逐（驅逐的脫離流程
// 會回頭拿房間鎖，在這裡驅逐會死鎖）。
func (rt *Router) dispatchMutationLocked(conn *Connection, roomID string, event CollabEvent, version int) []string {
	failed := rt.messenger.DeliverToRoom(roomID, event, conn.ID)

	ack := NewEvent(EventSyncAck, roomID)
	ack.Data = map[string]any{"version": version}
	if !rt.messenger.DeliverToConnection(conn.ID, ack) {
		failed = append(failed, conn.ID)
	}
	return failed
}

// evictFailed 註銷投遞失敗的連接（寫入失敗是死亡的證據）
func (rt *Router) evictFailed(connectionIDs []string) {
	for _, connectionID := range connectionIDs {
		rt.registry.Unregister(connectionID)
	}
}

// decodeUser 解析使用者負載（id 為必填）
func decodeUser(raw any) (User, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return User{}, false
	}

	user := User{}
	user.ID, _ = m["id"].(string)
	user.Name, _ = m["name"].(string)
	user.Avatar, _ = m["avatar"].(string)

	return user, user.ID != ""
}

// decodeRoot 解析 room:create 負載中的心智圖根節點並正規化
func decodeRoot(raw any) *MindmapNode {
	mindmap, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	rootRaw, ok := mindmap["root"].(map[string]any)
	if !ok {
		return nil
	}
	return NormalizeNode(rootRaw)
}

// decodeCursor 解析游標座標
func decodeCursor(raw any) (Cursor, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Cursor{}, false
	}
	x, xok := m["x"].(float64)
	y, yok := m["y"].(float64)
	if !xok || !yok {
		return Cursor{}, false
	}
	return Cursor{X: x, Y: y}, true
}

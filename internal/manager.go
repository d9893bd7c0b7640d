package internal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager 房間管理器
//
// 每房間狀態機：
//
//	absent → create → active → (人數歸零 | host 關閉 | 過期清理) → closed
//
// closed 是終態：房間 id 為服務器生成的 uuid，
// 同一 id 永不復活（join 已關閉的房間得到 room not found）。
//
// 鎖層次：Manager.mu 只保護房間表；
// 房間內部狀態由各自的 Room.Mu 序列化，兩把鎖永不嵌套持有。
type Manager struct {
	rooms        map[string]*Room
	mu           sync.RWMutex
	staleTimeout time.Duration
	logger       *slog.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// DefaultStaleTimeout 房間閒置過期門檻
const DefaultStaleTimeout = time.Hour

// NewManager 創建房間管理器並啟動過期清理 goroutine
//
// staleTimeout 非正值時使用預設門檻。
func NewManager(staleTimeout time.Duration, logger *slog.Logger) *Manager {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	m := &Manager{
		rooms:        make(map[string]*Room),
		staleTimeout: staleTimeout,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// CreateRoom 創建房間
//
// roomId 一律由服務器生成（uuid）：不信任客戶端提供的 id，
// 也就不存在兩個 create 競爭同一 id 的情況。
// root 必須先經過 NormalizeNode 正規化。
func (m *Manager) CreateRoom(host User, root *MindmapNode) *Room {
	roomID := uuid.NewString()
	room := NewRoom(roomID, host, root)

	m.mu.Lock()
	m.rooms[roomID] = room
	total := len(m.rooms)
	m.mu.Unlock()

	m.logger.Info("房間已創建",
		"room_id", roomID,
		"host_id", host.ID,
		"total_rooms", total)

	return room
}

// GetRoom 取得房間（不存在回傳 nil）
func (m *Manager) GetRoom(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// JoinRoom 加入房間
//
// 房間不存在回傳 (nil, nil)；成功時 upsert 參與者並
// 重新分配顏色與時間戳。
func (m *Manager) JoinRoom(roomID string, user User) (*Room, *Participant) {
	room := m.GetRoom(roomID)
	if room == nil {
		return nil, nil
	}

	participant := room.AddParticipant(user)

	m.logger.Info("參與者加入房間",
		"room_id", roomID,
		"user_id", user.ID)

	return room, participant
}

// LeaveRoom 離開房間
//
// 最後一位參與者離開時同步關閉房間（零參與者的房間不存在）。
func (m *Manager) LeaveRoom(roomID, userID string) {
	room := m.GetRoom(roomID)
	if room == nil {
		return
	}

	remaining := room.RemoveParticipant(userID)

	m.logger.Info("參與者離開房間",
		"room_id", roomID,
		"user_id", userID,
		"remaining", remaining)

	if remaining == 0 {
		m.CloseRoom(roomID)
	}
}

// CloseRoom 無條件關閉房間（冪等；未知或已關閉的 id 回傳 false）
func (m *Manager) CloseRoom(roomID string) bool {
	m.mu.Lock()
	_, exists := m.rooms[roomID]
	if exists {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()

	if exists {
		m.logger.Info("房間已關閉", "room_id", roomID)
	}
	return exists
}

// Snapshot 取得房間深拷貝快照（房間不存在回傳 nil）
func (m *Manager) Snapshot(roomID string) *RoomSnapshot {
	room := m.GetRoom(roomID)
	if room == nil {
		return nil
	}
	snapshot := room.Snapshot()
	return &snapshot
}

// CleanupStale 清理超過閒置門檻（staleTimeout）的房間，回傳清理數量
//
// 有界內存的看門人：正常流程下房間隨最後一位參與者離開而關閉，
// 這裡兜底處理異常殘留（例如參與者表非空但連接早已全斷）。
func (m *Manager) CleanupStale() int {
	m.mu.RLock()
	var stale []string
	for roomID, room := range m.rooms {
		if room.IsStale(m.staleTimeout) {
			stale = append(stale, roomID)
		}
	}
	m.mu.RUnlock()

	for _, roomID := range stale {
		if m.CloseRoom(roomID) {
			m.logger.Info("閒置房間已清理", "room_id", roomID)
		}
	}

	return len(stale)
}

// cleanupLoop 定期清理過期房間
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupStale()
		case <-m.stopCh:
			return
		}
	}
}

// Stop 停止管理器並清空房間表
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	m.logger.Info("房間管理器已停止")
}

// RoomCount 房間數量
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Stats 取得統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	totalParticipants := 0
	totalNodes := 0
	for _, room := range rooms {
		totalParticipants += room.ParticipantCount()
		totalNodes += room.NodeCount()
	}

	return map[string]any{
		"total_rooms":        len(rooms),
		"total_participants": totalParticipants,
		"total_nodes":        totalNodes,
	}
}

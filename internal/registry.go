package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport 對外傳輸句柄
//
// 抽象掉具體的 WebSocket 實作：
//   - 生產環境由 gorilla 適配器實作（見 websocket.go）
//   - 測試中以假傳輸替身驗證協議行為，不需要真的網路
//
// Send 必須是盡力而為且不阻塞變更路徑；
// 回傳錯誤即視為連接死亡的證據，呼叫方會立即驅逐。
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Connection 一條活躍的客戶端連接
//
// RoomID 為空字串代表未加入任何房間；一條連接同時至多屬於一個房間。
type Connection struct {
	ID     string
	UserID string

	Transport Transport

	mu       sync.Mutex
	roomID   string
	isAlive  bool
	lastPing time.Time
}

// RoomID 目前綁定的房間（未加入時為空字串）
func (c *Connection) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Touch 任何入站訊息（包含 pong）都刷新活性
func (c *Connection) Touch() {
	c.mu.Lock()
	c.isAlive = true
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// MarkPinged 發出 ping 後清除活性標記，等待對端回應
//
// 經典 ping/pong 不做 ack 計數：驅逐依據是 lastPing 的時齡，
// 標記只反映「最近一輪 ping 後是否有過回應」。
func (c *Connection) MarkPinged() {
	c.mu.Lock()
	c.isAlive = false
	c.mu.Unlock()
}

// IsAlive 最近一輪 ping 後是否收過任何入站訊息
func (c *Connection) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAlive
}

// LastPing 最後一次收到訊息的時間
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// Registry 連接註冊表
//
// 兩張表：連接表（connectionId → Connection）與
// 房間索引（roomId → connectionId 集合，供廣播快速定位）。
//
// 不變式：connectionId 出現在某房間的索引中，
// 若且唯若該連接的 roomID 等於該房間。
// Bind/Unbind 在同一把鎖內同時更新兩處，不變式不可能被觀察到破壞。
type Registry struct {
	connections map[string]*Connection
	roomConns   map[string]map[string]struct{}
	mu          sync.RWMutex
	logger      *slog.Logger

	// onDetach 在連接仍綁定房間時被註銷的回調，
	// 由路由層掛上完整的離開流程（移除參與者、廣播 user:leave、
	// 人數歸零時連鎖關房）。回調在不持有任何鎖的情況下執行。
	onDetach func(conn *Connection)
}

// NewRegistry 創建連接註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		roomConns:   make(map[string]map[string]struct{}),
		logger:      logger,
	}
}

// OnDetach 設定房間脫離回調（啟動期由路由層呼叫一次）
func (reg *Registry) OnDetach(fn func(conn *Connection)) {
	reg.onDetach = fn
}

// Register 註冊新連接
func (reg *Registry) Register(transport Transport, userID string) *Connection {
	conn := &Connection{
		ID:        fmt.Sprintf("conn_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		UserID:    userID,
		Transport: transport,
		isAlive:   true,
		lastPing:  time.Now(),
	}

	reg.mu.Lock()
	reg.connections[conn.ID] = conn
	total := len(reg.connections)
	reg.mu.Unlock()

	reg.logger.Info("連接已註冊",
		"connection_id", conn.ID,
		"user_id", userID,
		"total_connections", total)

	return conn
}

// Unregister 註銷連接
//
// 未知 id 為 no-op（冪等）。若連接仍綁定房間，
// 先透過 onDetach 走完整離開流程再刪除記錄。
func (reg *Registry) Unregister(connectionID string) {
	reg.mu.Lock()
	conn, exists := reg.connections[connectionID]
	if exists {
		delete(reg.connections, connectionID)
	}
	total := len(reg.connections)
	reg.mu.Unlock()

	if !exists {
		return
	}

	if conn.RoomID() != "" && reg.onDetach != nil {
		reg.onDetach(conn)
	}

	_ = conn.Transport.Close()

	reg.logger.Info("連接已註銷",
		"connection_id", connectionID,
		"user_id", conn.UserID,
		"total_connections", total)
}

// Get 取得連接（未知 id 回傳 nil）
func (reg *Registry) Get(connectionID string) *Connection {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.connections[connectionID]
}

// BindRoom 將連接綁定到房間
func (reg *Registry) BindRoom(conn *Connection, roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.roomConns[roomID] == nil {
		reg.roomConns[roomID] = make(map[string]struct{})
	}
	reg.roomConns[roomID][conn.ID] = struct{}{}

	conn.mu.Lock()
	conn.roomID = roomID
	conn.mu.Unlock()
}

// UnbindRoom 解除連接與房間的綁定
func (reg *Registry) UnbindRoom(conn *Connection) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conn.mu.Lock()
	roomID := conn.roomID
	conn.roomID = ""
	conn.mu.Unlock()

	if roomID == "" {
		return
	}

	if conns, exists := reg.roomConns[roomID]; exists {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(reg.roomConns, roomID)
		}
	}
}

// RoomConnections 取得房間內所有連接（廣播用）
func (reg *Registry) RoomConnections(roomID string) []*Connection {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	ids, exists := reg.roomConns[roomID]
	if !exists {
		return nil
	}

	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, ok := reg.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Connections 取得所有連接的快照（心跳掃描用）
func (reg *Registry) Connections() []*Connection {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	conns := make([]*Connection, 0, len(reg.connections))
	for _, conn := range reg.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Stats 連接統計：總連接數、已入房連接數、房間索引數
func (reg *Registry) Stats() (total, connectedToRooms, roomCount int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, conn := range reg.connections {
		if conn.RoomID() != "" {
			connectedToRooms++
		}
	}
	return len(reg.connections), connectedToRooms, len(reg.roomConns)
}

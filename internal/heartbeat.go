package internal

import (
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   TCP 不會及時告訴你對端已經消失（backgrounded 的手機、直接關掉的分頁），
//   死連接佔著註冊表與房間索引，如何及時發現並回收？
//
// 設計方案：
//   ✅ 經典 ping/pong - 每輪向所有連接發 ping 並清除活性標記
//   ✅ 超時驅逐 - 距上次入站訊息超過門檻即強制註銷
//   ✅ 任何入站訊息都算活著 - 不只 pong，編輯訊息同樣刷新 lastPing

// Heartbeat 心跳監視器
type Heartbeat struct {
	registry  *Registry
	messenger *Messenger
	manager   *Manager
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

const (
	// DefaultHeartbeatInterval 心跳掃描間隔
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultConnectionTimeout 無訊息驅逐門檻
	DefaultConnectionTimeout = 120 * time.Second
)

// NewHeartbeat 創建心跳監視器（不自動啟動，呼叫 Start）
func NewHeartbeat(registry *Registry, messenger *Messenger, manager *Manager, interval, timeout time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	return &Heartbeat{
		registry:  registry,
		messenger: messenger,
		manager:   manager,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start 啟動定期掃描
func (h *Heartbeat) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.Sweep()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop 停止掃描
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Sweep 執行一輪掃描
//
// 每條連接二擇一：
//   - 超時 → 靜默驅逐（對端已不可達，不發任何通知）
//   - 未超時 → 發 ping 並清除活性標記，等待任何入站訊息刷新
//
// 驅逐數量回傳給測試與監控。
func (h *Heartbeat) Sweep() int {
	now := time.Now()
	evicted := 0

	for _, conn := range h.registry.Connections() {
		if now.Sub(conn.LastPing()) > h.timeout {
			h.logger.Info("連接心跳超時，驅逐",
				"connection_id", conn.ID,
				"user_id", conn.UserID,
				"last_ping", conn.LastPing())
			h.registry.Unregister(conn.ID)
			evicted++
			continue
		}

		conn.MarkPinged()
		h.messenger.SendToConnection(conn.ID, NewEvent(EventPing, conn.RoomID()))
	}

	return evicted
}

// Stats 聚合統計（監控端點用）
//
// 合併連接面（註冊表）與房間面（管理器）的統計，
// /stats 端點只需要問一個地方。
func (h *Heartbeat) Stats() map[string]any {
	total, connectedToRooms, roomCount := h.registry.Stats()
	stats := map[string]any{
		"total_connections":  total,
		"connected_to_rooms": connectedToRooms,
		"room_count":         roomCount,
	}
	for key, value := range h.manager.Stats() {
		stats[key] = value
	}
	return stats
}

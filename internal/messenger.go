package internal

import (
	"encoding/json"
	"log/slog"
)

// Messenger 訊息投遞層
//
// 兩種投遞模式：
//   - 單播（SendToConnection）：回覆、ack、錯誤事件
//   - 房間扇出（BroadcastToRoom）：排除發起者的全房間廣播
//
// 失敗語義：寫入失敗視為連接死亡的證據，不重試、立即驅逐。
// 廣播中單一收件者失敗被隔離 - 只驅逐失敗的那條連接，
// 其餘收件者照常投遞。
//
// 投遞與驅逐分離：Deliver* 只投遞並回報失敗者，不觸發註銷。
// 路由層在房間鎖內投遞（保證廣播順序等於處理順序），
// 鎖釋放後才驅逐失敗者 - 驅逐的脫離流程會回頭拿房間鎖，
// 在臨界區內驅逐會死鎖。
type Messenger struct {
	registry *Registry
	logger   *slog.Logger
}

// NewMessenger 創建訊息投遞層
func NewMessenger(registry *Registry, logger *slog.Logger) *Messenger {
	return &Messenger{
		registry: registry,
		logger:   logger,
	}
}

// SendToConnection 單播事件
//
// 未知連接為 no-op；寫入失敗時註銷該連接。
func (msg *Messenger) SendToConnection(connectionID string, event CollabEvent) {
	if !msg.DeliverToConnection(connectionID, event) {
		msg.registry.Unregister(connectionID)
	}
}

// DeliverToConnection 單播事件但不驅逐
//
// 回傳 false 代表寫入失敗，呼叫方負責在安全時機驅逐。
// 未知連接視為成功（沒有可驅逐的對象）。
func (msg *Messenger) DeliverToConnection(connectionID string, event CollabEvent) bool {
	conn := msg.registry.Get(connectionID)
	if conn == nil {
		return true
	}

	data, err := json.Marshal(event)
	if err != nil {
		msg.logger.Error("序列化事件失敗", "error", err, "type", event.Type)
		return true
	}

	if err := conn.Transport.Send(data); err != nil {
		msg.logger.Warn("單播失敗",
			"connection_id", connectionID,
			"type", event.Type,
			"error", err)
		return false
	}
	return true
}

// BroadcastToRoom 房間扇出
//
// 排除 excludeConnectionID（通常是事件發起者，發起者由 sync:ack 確認），
// 寫入失敗的收件者立即驅逐。
func (msg *Messenger) BroadcastToRoom(roomID string, event CollabEvent, excludeConnectionID string) {
	for _, connectionID := range msg.DeliverToRoom(roomID, event, excludeConnectionID) {
		msg.registry.Unregister(connectionID)
	}
}

// DeliverToRoom 房間扇出但不驅逐，回傳寫入失敗的連接 id
//
// 事件只序列化一次。
func (msg *Messenger) DeliverToRoom(roomID string, event CollabEvent, excludeConnectionID string) []string {
	conns := msg.registry.RoomConnections(roomID)
	if len(conns) == 0 {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		msg.logger.Error("序列化事件失敗", "error", err, "type", event.Type)
		return nil
	}

	var failed []string
	for _, conn := range conns {
		if conn.ID == excludeConnectionID {
			continue
		}
		if err := conn.Transport.Send(data); err != nil {
			msg.logger.Warn("廣播投遞失敗",
				"connection_id", conn.ID,
				"room_id", roomID,
				"type", event.Type,
				"error", err)
			failed = append(failed, conn.ID)
		}
	}
	return failed
}

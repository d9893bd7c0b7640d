package internal

import "time"

// 協議設計：
//   客戶端與服務器之間使用 JSON 訊息封包通信。
//
//   客戶端 → 服務器：CollabMessage {type, roomId?, data?}
//   服務器 → 客戶端：CollabEvent {type, roomId, userId?, timestamp, version?, data}
//
// 為什麼分成兩種封包？
//   - 客戶端訊息是「請求意圖」：不帶時間戳與版本（由服務器權威決定）
//   - 服務器事件是「已發生事實」：帶服務器時間戳，文檔變更附帶新版本號
//   - 單向欄位差異明確，避免客戶端偽造 version 造成同步混亂

// MessageType 客戶端訊息類型
type MessageType string

const (
	MsgPing        MessageType = "ping"
	MsgPong        MessageType = "pong"
	MsgRoomCreate  MessageType = "room:create"
	MsgRoomJoin    MessageType = "room:join"
	MsgRoomLeave   MessageType = "room:leave"
	MsgRoomClose   MessageType = "room:close"
	MsgCursorMove  MessageType = "cursor:move"
	MsgNodeSelect  MessageType = "node:select"
	MsgNodeAdd     MessageType = "node:add"
	MsgNodeUpdate  MessageType = "node:update"
	MsgNodeDelete  MessageType = "node:delete"
	MsgNodeMove    MessageType = "node:move"
	MsgSyncRequest MessageType = "sync:request"
)

// EventType 服務器事件類型
type EventType string

const (
	EventPing        EventType = "ping"
	EventPong        EventType = "pong"
	EventRoomCreated EventType = "room:created"
	EventRoomClosed  EventType = "room:closed"
	EventUserJoin    EventType = "user:join"
	EventUserLeave   EventType = "user:leave"
	EventUserCursor  EventType = "user:cursor"
	EventUserSelect  EventType = "user:select"
	EventNodeAdd     EventType = "node:add"
	EventNodeUpdate  EventType = "node:update"
	EventNodeDelete  EventType = "node:delete"
	EventNodeMove    EventType = "node:move"
	EventSyncFull    EventType = "sync:full"
	EventSyncAck     EventType = "sync:ack"
	EventError       EventType = "error"
)

// CollabMessage 客戶端發來的訊息封包
type CollabMessage struct {
	Type   MessageType    `json:"type"`
	RoomID string         `json:"roomId,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// CollabEvent 服務器推送的事件封包
//
// Timestamp 使用 epoch 毫秒（對齊前端 Date.now()）。
// Version 只在文檔變更事件（node:*）與 sync:ack 上出現，
// presence 事件（user:cursor、user:select）不帶版本。
type CollabEvent struct {
	Type      EventType      `json:"type"`
	RoomID    string         `json:"roomId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Version   int            `json:"version,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent 建立帶當前時間戳的事件
func NewEvent(eventType EventType, roomID string) CollabEvent {
	return CollabEvent{
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
		Data:      map[string]any{},
	}
}

// ErrorEvent 建立錯誤事件
//
// 錯誤事件只會單播給肇事連接，永不廣播（協議層故障不打擾整個房間）。
func ErrorEvent(message string) CollabEvent {
	return CollabEvent{
		Type:      EventError,
		Timestamp: time.Now().UnixMilli(),
		Data:      map[string]any{"message": message},
	}
}

package internal_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-collab-mindmap/internal"
	"github.com/stretchr/testify/require"
)

// fakeTransport 測試用傳輸替身
//
// 記錄所有送出的事件；failing=true 時模擬死連接（寫入必定失敗），
// 驗證「寫入失敗即驅逐」的語義不需要真的網路。
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	failing bool
	closed  bool
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing || f.closed {
		return errors.New("connection reset")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = true
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// events 解碼所有已送出的事件
func (f *fakeTransport) events(t *testing.T) []internal.CollabEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	events := make([]internal.CollabEvent, 0, len(f.sent))
	for _, data := range f.sent {
		var event internal.CollabEvent
		require.NoError(t, json.Unmarshal(data, &event))
		events = append(events, event)
	}
	return events
}

// eventsOfType 過濾特定類型的事件
func (f *fakeTransport) eventsOfType(t *testing.T, eventType internal.EventType) []internal.CollabEvent {
	t.Helper()
	var filtered []internal.CollabEvent
	for _, event := range f.events(t) {
		if event.Type == eventType {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// lastEvent 最後一個送出的事件
func (f *fakeTransport) lastEvent(t *testing.T) internal.CollabEvent {
	t.Helper()
	events := f.events(t)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

// collabStack 組裝完整的協作服務棧（不含 WebSocket 層）
type collabStack struct {
	registry  *internal.Registry
	manager   *internal.Manager
	messenger *internal.Messenger
	router    *internal.Router
}

func newCollabStack(t *testing.T) *collabStack {
	t.Helper()
	logger := newTestLogger()

	manager := internal.NewManager(0, logger)
	t.Cleanup(manager.Stop)

	registry := internal.NewRegistry(logger)
	messenger := internal.NewMessenger(registry, logger)
	router := internal.NewRouter(registry, manager, messenger, logger)

	return &collabStack{
		registry:  registry,
		manager:   manager,
		messenger: messenger,
		router:    router,
	}
}

// connect 註冊一條假連接
func (s *collabStack) connect(userID string) (*internal.Connection, *fakeTransport) {
	transport := &fakeTransport{}
	conn := s.registry.Register(transport, userID)
	return conn, transport
}

// createRoom 以 userID 創建房間並回傳 roomId
func (s *collabStack) createRoom(t *testing.T, conn *internal.Connection, transport *fakeTransport, userID string) string {
	t.Helper()
	s.router.HandleMessage(conn.ID, internal.CollabMessage{
		Type: internal.MsgRoomCreate,
		Data: map[string]any{
			"mindmap": map[string]any{
				"title": "測試心智圖",
				"root":  map[string]any{"id": "root", "label": "主題"},
			},
			"user": map[string]any{"id": userID, "name": "使用者 " + userID},
		},
	})

	created := transport.eventsOfType(t, internal.EventRoomCreated)
	require.NotEmpty(t, created)
	latest := created[len(created)-1]
	require.NotEmpty(t, latest.RoomID)
	return latest.RoomID
}

// joinRoom 以 userID 加入房間
func (s *collabStack) joinRoom(conn *internal.Connection, roomID, userID string) {
	s.router.HandleMessage(conn.ID, internal.CollabMessage{
		Type:   internal.MsgRoomJoin,
		RoomID: roomID,
		Data: map[string]any{
			"user": map[string]any{"id": userID, "name": "使用者 " + userID},
		},
	})
}

package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket 傳輸層
//
// 每客戶端一條 WebSocket；升級後註冊到連接註冊表，
// 讀 goroutine 解碼訊息餵給路由器，寫 goroutine 從緩衝 channel 消費。
//
// 時間配置沿用經典組合：
//   writePump 54s 協議級 Ping → readPump 60s 讀取超時（留 6 秒余量），
// 避開常見代理的 60 秒閒置切斷。應用層 JSON ping/pong
// 心跳（30s/120s）由 Heartbeat 負責，兩層互不依賴。

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var errTransportClosed = errors.New("transport closed")
var errSendBufferFull = errors.New("send buffer full")

// WSServer WebSocket 接入層
type WSServer struct {
	registry *Registry
	router   *Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSServer 創建 WebSocket 接入層
func NewWSServer(registry *Registry, router *Router, logger *slog.Logger) *WSServer {
	return &WSServer{
		registry: registry,
		router:   router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// ServeWS 處理 WebSocket 升級請求
//
// 身份由上游會話層決定，這裡只要求 user_id 查詢參數
// （認證簽發不在本服務範圍內）。
func (s *WSServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "缺少 user_id", http.StatusBadRequest)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	transport := newWSTransport(socket, s.logger)
	connection := s.registry.Register(transport, userID)

	go transport.writePump()
	go s.readPump(connection, transport)

	s.logger.Info("WebSocket 連接建立",
		"connection_id", connection.ID,
		"user_id", userID)
}

// readPump 讀取並分發客戶端訊息
//
// 讀取錯誤（斷線、超時）觸發註銷；畸形 JSON 只記錄後丟棄，
// 不中斷連接也不影響房間。
func (s *WSServer) readPump(connection *Connection, transport *wsTransport) {
	defer func() {
		s.registry.Unregister(connection.ID)
	}()

	transport.socket.SetReadLimit(maxMessageSize)
	if err := transport.socket.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error("設置讀取期限失敗", "error", err)
	}
	transport.socket.SetPongHandler(func(string) error {
		if err := transport.socket.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.logger.Error("設置讀取期限失敗", "error", err)
		}
		connection.Touch()
		return nil
	})

	for {
		messageType, data, err := transport.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"connection_id", connection.ID)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if err := transport.socket.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.logger.Error("設置讀取期限失敗", "error", err)
		}

		var message CollabMessage
		if err := json.Unmarshal(data, &message); err != nil {
			s.logger.Warn("解析客戶端訊息失敗",
				"error", err,
				"connection_id", connection.ID)
			continue
		}

		s.router.HandleMessage(connection.ID, message)
	}
}

// wsTransport gorilla 連接的 Transport 適配器
type wsTransport struct {
	socket    *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSTransport(socket *websocket.Conn, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		socket: socket,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send 非阻塞投遞到寫緩衝
//
// 緩衝滿代表消費端（慢客戶端）已經跟不上，回傳錯誤讓
// 投遞層以死連接處置，避免慢客戶端拖累整個房間的變更路徑。
func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errSendBufferFull
	}
}

// Close 冪等關閉
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return t.socket.Close()
}

// writePump 寫入訊息到客戶端
//
// 單一寫 goroutine：gorilla 連接不允許並發寫，
// 所有出站流量（事件 + 協議級 Ping）都收斂到這裡。
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.Close()
	}()

	for {
		select {
		case data := <-t.send:
			if err := t.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := t.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// 批量發送隊列中的訊息
			n := len(t.send)
			for i := 0; i < n; i++ {
				if err := t.socket.WriteMessage(websocket.TextMessage, <-t.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := t.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := t.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			deadline := time.Now().Add(time.Second)
			if err := t.socket.SetWriteDeadline(deadline); err == nil {
				_ = t.socket.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

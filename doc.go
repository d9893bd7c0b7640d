// Package collab 提供了一個即時協作心智圖編輯服務器。
//
// 實現了多人同時檢視與編輯同一棵心智圖樹的房間服務，包含以下核心功能：
//
// 房間管理系統
//
// 提供完整的房間生命週期管理：
//   - 房間創建與銷毀（host 關閉、人走房空、閒置清理）
//   - 參與者加入與離開（調色盤顏色分配）
//   - 單調版本號：每次成功變更恰好 +1
//   - 全量重同步（sync:full / sync:request）
//
// # 樹變更引擎
//
// 對單一權威內存副本按到達順序套用變更：
//   - addNode / updateNode / deleteNode / moveNode
//   - 根節點保護：永不刪除、永不移動
//   - 環路檢查：節點不可移動成自己的後代
//   - 失敗回傳 {success:false}，版本不變，永不拋出
//
// # WebSocket 通訊
//
// 實現了即時雙向通訊機制：
//   - 支援心跳檢測（30 秒掃描、120 秒超時驅逐）
//   - 訊息廣播與單播（ack 與廣播解耦）
//   - 寫入失敗即驅逐（失敗是死亡的證據，不重試）
//   - 連接狀態管理
//
// 併發安全設計
//
// 採用了多層次的併發控制策略：
//   - 房間級互斥鎖：同房間變更全序列化，不同房間互不阻塞
//   - 註冊表讀寫鎖保護連接表與房間索引
//   - 緩衝 channel 異步發送，變更路徑永不被 socket 寫入阻塞
//   - 同房間內廣播順序等於服務器處理順序
//
// 使用範例
//
// 啟動服務器：
//
//	manager := internal.NewManager(logger)
//	registry := internal.NewRegistry(logger)
//	messenger := internal.NewMessenger(registry, logger)
//	router := internal.NewRouter(registry, manager, messenger, logger)
//	wsServer := internal.NewWSServer(registry, router, logger)
//
//	http.HandleFunc("/ws", wsServer.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// 客戶端連接後以 JSON 封包通信：
//
//	{"type":"room:create","data":{"mindmap":{"root":{"id":"root","label":"主題"}},"user":{"id":"u1","name":"小明"}}}
//	{"type":"node:add","data":{"node":{"id":"a","label":"分支"},"parentId":"root"}}
//
// 架構設計
//
// 系統採用分層架構設計：
//   - WebSocket 層：升級、讀寫 pump、傳輸適配
//   - Registry 層：連接表與房間索引
//   - Router 層：協議分發與房間編排
//   - Manager / Room 層：權威文檔狀態與樹變更引擎
//   - Messenger 層：單播與房間扇出
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
//
// 設計取捨
//
// 刻意不做的事：
//   - 不是 CRDT / OT 引擎：衝突以嚴格到達順序解決（last-writer-wins）
//   - 不做持久化：房間狀態為內存臨時態，斷線靠 sync:request 重同步
//   - 不提供 REST 變更入口：所有文檔變更只走 WebSocket
package collab

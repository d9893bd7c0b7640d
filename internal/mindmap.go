package internal

import (
	"time"

	"github.com/google/uuid"
)

// MindmapNode 心智圖節點
//
// 任意 n 叉樹，每個房間恰好一個根節點。
// 根節點身份不可變：永不刪除、永不移動。
type MindmapNode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Children []*MindmapNode `json:"children"`
}

// MindmapState 房間持有的心智圖文檔狀態
type MindmapState struct {
	Root      *MindmapNode `json:"root"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// NormalizeNode 樹形態正規化器
//
// 歷史原因：舊版客戶端以 text 欄位存節點文字，新版使用 label，
// 兩種形態都可能出現在 room:create / node:add 的負載裡。
// 進入房間前統一轉成唯一的規範形態：
//   - label 優先，缺失時回退 text
//   - 缺失或空的 id 由服務器補發（uuid）
//   - children 永遠具體化為非 nil 切片（序列化輸出 [] 而非 null）
//
// 輸入為解碼後的 JSON 物件；非法形態（非物件、型別錯誤）回傳 nil。
func NormalizeNode(raw map[string]any) *MindmapNode {
	if raw == nil {
		return nil
	}

	node := &MindmapNode{
		Children: []*MindmapNode{},
	}

	if id, ok := raw["id"].(string); ok {
		node.ID = id
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	if label, ok := raw["label"].(string); ok {
		node.Label = label
	} else if text, ok := raw["text"].(string); ok {
		node.Label = text // 舊形態
	}

	if children, ok := raw["children"].([]any); ok {
		for _, c := range children {
			childRaw, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if child := NormalizeNode(childRaw); child != nil {
				node.Children = append(node.Children, child)
			}
		}
	}

	return node
}

// findNode 深度優先搜尋節點
//
// O(n) 掃描。心智圖規模為數十到低數百節點、編輯以人類速度發生，
// 不需要 id → 節點索引。
func findNode(root *MindmapNode, id string) *MindmapNode {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := findNode(child, id); found != nil {
			return found
		}
	}
	return nil
}

// findParent 尋找節點的父節點（根節點與未知節點回傳 nil）
func findParent(root *MindmapNode, id string) *MindmapNode {
	if root == nil {
		return nil
	}
	for _, child := range root.Children {
		if child.ID == id {
			return root
		}
		if found := findParent(child, id); found != nil {
			return found
		}
	}
	return nil
}

// subtreeContains 檢查 id 是否落在 node 為根的子樹內（含 node 本身）
//
// moveNode 的環路檢查依賴此函數：節點不可移動成自己的後代。
func subtreeContains(node *MindmapNode, id string) bool {
	return findNode(node, id) != nil
}

// cloneNode 深拷貝子樹
//
// Snapshot 快照必須與權威副本完全隔離，
// 否則呼叫方持有的指標會穿透房間鎖直接改到文檔。
func cloneNode(node *MindmapNode) *MindmapNode {
	if node == nil {
		return nil
	}
	clone := &MindmapNode{
		ID:       node.ID,
		Label:    node.Label,
		Children: make([]*MindmapNode, 0, len(node.Children)),
	}
	for _, child := range node.Children {
		clone.Children = append(clone.Children, cloneNode(child))
	}
	return clone
}

// countNodes 計算子樹節點數（統計用）
func countNodes(node *MindmapNode) int {
	if node == nil {
		return 0
	}
	count := 1
	for _, child := range node.Children {
		count += countNodes(child)
	}
	return count
}

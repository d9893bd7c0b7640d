package internal_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-collab-mindmap/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom() *internal.Room {
	root := &internal.MindmapNode{
		ID:       "root",
		Label:    "主題",
		Children: []*internal.MindmapNode{},
	}
	host := internal.User{ID: "host_001", Name: "房主", Avatar: "🦉"}
	return internal.NewRoom("room_001", host, root)
}

// addChild 在 parentID 下掛一個節點（測試輔助）
func addChild(t *testing.T, room *internal.Room, userID, id, label, parentID string) {
	t.Helper()
	result := room.AddNode(userID, &internal.MindmapNode{
		ID:       id,
		Label:    label,
		Children: []*internal.MindmapNode{},
	}, parentID)
	require.True(t, result.Success)
}

// TestNewRoom 測試創建房間
func TestNewRoom(t *testing.T) {
	room := newTestRoom()

	assert.Equal(t, "room_001", room.ID)
	assert.Equal(t, 1, room.Version)
	assert.Equal(t, "host_001", room.HostID)
	assert.Equal(t, 1, room.ParticipantCount())

	snapshot := room.Snapshot()
	require.Len(t, snapshot.Participants, 1)
	assert.Equal(t, "房主", snapshot.Participants[0].DisplayName)
	assert.NotEmpty(t, snapshot.Participants[0].Color)
	assert.Equal(t, "root", snapshot.Mindmap.Root.ID)
}

// TestRoom_AddNode 測試新增節點
func TestRoom_AddNode(t *testing.T) {
	tests := []struct {
		name            string
		node            *internal.MindmapNode
		parentID        string
		expectedSuccess bool
		expectedVersion int
	}{
		{
			name:            "add under root",
			node:            &internal.MindmapNode{ID: "a", Label: "A", Children: []*internal.MindmapNode{}},
			parentID:        "root",
			expectedSuccess: true,
			expectedVersion: 2,
		},
		{
			name:            "parent not found",
			node:            &internal.MindmapNode{ID: "b", Label: "B", Children: []*internal.MindmapNode{}},
			parentID:        "missing",
			expectedSuccess: false,
			expectedVersion: 1,
		},
		{
			name:            "nil node",
			node:            nil,
			parentID:        "root",
			expectedSuccess: false,
			expectedVersion: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom()
			result := room.AddNode("host_001", tt.node, tt.parentID)

			assert.Equal(t, tt.expectedSuccess, result.Success)
			assert.Equal(t, tt.expectedVersion, result.Version)

			snapshot := room.Snapshot()
			assert.Equal(t, tt.expectedVersion, snapshot.Version)
			if tt.expectedSuccess {
				require.Len(t, snapshot.Mindmap.Root.Children, 1)
				assert.Equal(t, tt.node.ID, snapshot.Mindmap.Root.Children[0].ID)
			}
		})
	}
}

// TestRoom_UpdateNode 測試更新節點
func TestRoom_UpdateNode(t *testing.T) {
	t.Run("update label", func(t *testing.T) {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")

		result := room.UpdateNode("host_001", "a", map[string]any{"label": "改過的 A"})
		require.True(t, result.Success)
		assert.Equal(t, 3, result.Version)

		snapshot := room.Snapshot()
		assert.Equal(t, "改過的 A", snapshot.Mindmap.Root.Children[0].Label)
	})

	t.Run("legacy text key applies to label", func(t *testing.T) {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")

		result := room.UpdateNode("host_001", "a", map[string]any{"text": "舊欄位"})
		require.True(t, result.Success)

		snapshot := room.Snapshot()
		assert.Equal(t, "舊欄位", snapshot.Mindmap.Root.Children[0].Label)
	})

	t.Run("id cannot be changed via update", func(t *testing.T) {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")

		result := room.UpdateNode("host_001", "a", map[string]any{"id": "hijacked", "label": "B"})
		require.True(t, result.Success)

		snapshot := room.Snapshot()
		assert.Equal(t, "a", snapshot.Mindmap.Root.Children[0].ID)
		assert.Equal(t, "B", snapshot.Mindmap.Root.Children[0].Label)
	})

	t.Run("node not found", func(t *testing.T) {
		room := newTestRoom()

		result := room.UpdateNode("host_001", "missing", map[string]any{"label": "X"})
		assert.False(t, result.Success)
		assert.Equal(t, 1, result.Version)
	})
}

// TestRoom_DeleteNode 測試刪除節點
func TestRoom_DeleteNode(t *testing.T) {
	t.Run("root is protected", func(t *testing.T) {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")

		result := room.DeleteNode("host_001", "root")
		assert.False(t, result.Success)
		assert.Equal(t, 2, result.Version)
	})

	t.Run("delete child then tree is empty", func(t *testing.T) {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")

		result := room.DeleteNode("host_001", "a")
		require.True(t, result.Success)
		assert.Equal(t, 3, result.Version)

		snapshot := room.Snapshot()
		assert.Empty(t, snapshot.Mindmap.Root.Children)
	})

	t.Run("delete removes whole subtree", func(t *testing.T) {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")
		addChild(t, room, "host_001", "a1", "A1", "a")
		addChild(t, room, "host_001", "a2", "A2", "a")

		result := room.DeleteNode("host_001", "a")
		require.True(t, result.Success)
		assert.Equal(t, 5, result.Version)
		assert.Equal(t, 1, room.NodeCount())
	})

	t.Run("node not found", func(t *testing.T) {
		room := newTestRoom()

		result := room.DeleteNode("host_001", "missing")
		assert.False(t, result.Success)
		assert.Equal(t, 1, result.Version)
	})
}

// TestRoom_MoveNode 測試移動節點
func TestRoom_MoveNode(t *testing.T) {
	// 構建 root → a → a1，root → b
	setup := func(t *testing.T) *internal.Room {
		room := newTestRoom()
		addChild(t, room, "host_001", "a", "A", "root")
		addChild(t, room, "host_001", "a1", "A1", "a")
		addChild(t, room, "host_001", "b", "B", "root")
		return room // version 4
	}

	tests := []struct {
		name            string
		nodeID          string
		newParentID     string
		expectedSuccess bool
	}{
		{name: "valid move", nodeID: "a1", newParentID: "b", expectedSuccess: true},
		{name: "move to itself", nodeID: "a", newParentID: "a", expectedSuccess: false},
		{name: "move into own subtree", nodeID: "a", newParentID: "a1", expectedSuccess: false},
		{name: "root never moves", nodeID: "root", newParentID: "b", expectedSuccess: false},
		{name: "node not found", nodeID: "missing", newParentID: "b", expectedSuccess: false},
		{name: "new parent not found", nodeID: "a1", newParentID: "missing", expectedSuccess: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := setup(t)
			result := room.MoveNode("host_001", tt.nodeID, tt.newParentID)

			assert.Equal(t, tt.expectedSuccess, result.Success)
			if tt.expectedSuccess {
				assert.Equal(t, 5, result.Version)
			} else {
				assert.Equal(t, 4, result.Version)
			}
			// 節點總數不因移動而改變
			assert.Equal(t, 4, room.NodeCount())
		})
	}

	t.Run("move relinks subtree", func(t *testing.T) {
		room := setup(t)
		result := room.MoveNode("host_001", "a1", "b")
		require.True(t, result.Success)

		snapshot := room.Snapshot()
		var a, b *internal.MindmapNode
		for _, child := range snapshot.Mindmap.Root.Children {
			switch child.ID {
			case "a":
				a = child
			case "b":
				b = child
			}
		}
		require.NotNil(t, a)
		require.NotNil(t, b)
		assert.Empty(t, a.Children)
		require.Len(t, b.Children, 1)
		assert.Equal(t, "a1", b.Children[0].ID)
	})
}

// TestRoom_VersionInvariant 測試版本單調性
//
// N 次成功變更後版本恰為 1+N；失敗的變更不計入。
func TestRoom_VersionInvariant(t *testing.T) {
	room := newTestRoom()

	mutations := 0
	for i := 0; i < 5; i++ {
		addChild(t, room, "host_001", fmt.Sprintf("n%d", i), fmt.Sprintf("N%d", i), "root")
		mutations++
	}

	// 摻入失敗的變更
	assert.False(t, room.DeleteNode("host_001", "root").Success)
	assert.False(t, room.MoveNode("host_001", "n0", "n0").Success)
	assert.False(t, room.AddNode("host_001", &internal.MindmapNode{ID: "x"}, "missing").Success)

	require.True(t, room.UpdateNode("host_001", "n0", map[string]any{"label": "改"}).Success)
	mutations++

	snapshot := room.Snapshot()
	assert.Equal(t, 1+mutations, snapshot.Version)
	assert.Len(t, snapshot.Mindmap.Root.Children, 5)
}

// TestRoom_ColorAssignment 測試調色盤分配
func TestRoom_ColorAssignment(t *testing.T) {
	room := newTestRoom()

	// 前 8 位（含 host）顏色互不重複
	for i := 1; i < 8; i++ {
		room.AddParticipant(internal.User{ID: fmt.Sprintf("user_%d", i), Name: fmt.Sprintf("參與者%d", i)})
	}

	snapshot := room.Snapshot()
	colors := make(map[string]bool)
	for _, p := range snapshot.Participants {
		colors[p.Color] = true
	}
	assert.Len(t, colors, 8)

	// 第 9 位起調色盤用罄，round-robin 重複使用但不阻擋加入
	p := room.AddParticipant(internal.User{ID: "user_8", Name: "第九位"})
	assert.NotEmpty(t, p.Color)
	assert.Equal(t, 9, room.ParticipantCount())
}

// TestRoom_Presence 測試 presence 更新
func TestRoom_Presence(t *testing.T) {
	room := newTestRoom()

	t.Run("cursor and selection do not bump version", func(t *testing.T) {
		require.True(t, room.UpdateCursor("host_001", internal.Cursor{X: 10, Y: 20}))
		require.True(t, room.UpdateSelection("host_001", "root"))

		snapshot := room.Snapshot()
		assert.Equal(t, 1, snapshot.Version)

		p := snapshot.Participants[0]
		require.NotNil(t, p.Cursor)
		assert.Equal(t, 10.0, p.Cursor.X)
		assert.Equal(t, 20.0, p.Cursor.Y)
		assert.Equal(t, "root", p.SelectedNodeID)
	})

	t.Run("clear selection with empty node id", func(t *testing.T) {
		require.True(t, room.UpdateSelection("host_001", ""))
		snapshot := room.Snapshot()
		assert.Empty(t, snapshot.Participants[0].SelectedNodeID)
	})

	t.Run("unknown participant", func(t *testing.T) {
		assert.False(t, room.UpdateCursor("ghost", internal.Cursor{}))
		assert.False(t, room.UpdateSelection("ghost", "root"))
	})
}

// TestRoom_SnapshotIsolation 測試快照與權威副本隔離
func TestRoom_SnapshotIsolation(t *testing.T) {
	room := newTestRoom()
	addChild(t, room, "host_001", "a", "A", "root")

	snapshot := room.Snapshot()
	snapshot.Mindmap.Root.Children[0].Label = "竄改"
	snapshot.Mindmap.Root.Children = nil
	snapshot.Participants[0].DisplayName = "竄改"

	fresh := room.Snapshot()
	require.Len(t, fresh.Mindmap.Root.Children, 1)
	assert.Equal(t, "A", fresh.Mindmap.Root.Children[0].Label)
	assert.Equal(t, "房主", fresh.Participants[0].DisplayName)
}

// TestRoom_IsStale 測試閒置判斷
func TestRoom_IsStale(t *testing.T) {
	room := newTestRoom()

	assert.False(t, room.IsStale(time.Minute))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, room.IsStale(time.Millisecond))

	// 任何活動都刷新閒置時鐘
	addChild(t, room, "host_001", "a", "A", "root")
	assert.False(t, room.IsStale(time.Minute))
}

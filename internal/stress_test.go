package internal_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-collab-mindmap/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentMutations 併發變更壓力測試
//
// N 個參與者各自併發提交 M 次 node:add：
// 鎖序列化之下最終版本必須恰為 1 + N*M，且根節點下恰有 N*M 個子節點。
func TestStress_ConcurrentMutations(t *testing.T) {
	if testing.Short() {
		t.Skip("短模式下跳過壓力測試")
	}

	const (
		participants = 8
		opsPerUser   = 50
	)

	room := internal.NewRoom("room_stress",
		internal.User{ID: "user_000", Name: "參與者 0"},
		&internal.MindmapNode{ID: "root", Label: "壓測主題"})

	for i := 1; i < participants; i++ {
		room.AddParticipant(internal.User{
			ID:   fmt.Sprintf("user_%03d", i),
			Name: fmt.Sprintf("參與者 %d", i),
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(userIdx int) {
			defer wg.Done()
			userID := fmt.Sprintf("user_%03d", userIdx)
			for j := 0; j < opsPerUser; j++ {
				node := &internal.MindmapNode{
					ID:    fmt.Sprintf("node_%d_%d", userIdx, j),
					Label: fmt.Sprintf("節點 %d-%d", userIdx, j),
				}
				result := room.AddNode(userID, node, "root")
				assert.True(t, result.Success)
			}
		}(i)
	}
	wg.Wait()

	snapshot := room.Snapshot()
	assert.Equal(t, 1+participants*opsPerUser, snapshot.Version)
	assert.Len(t, snapshot.Mindmap.Root.Children, participants*opsPerUser)
}

// TestStress_ConcurrentRooms 多房間併發生命週期壓力測試
//
// 併發創建/加入/變更/離開互不相干的房間，
// 驗證管理器的讀寫鎖與每房間互斥鎖不互相干擾，
// 且所有房間最終因清空而同步關閉。
func TestStress_ConcurrentRooms(t *testing.T) {
	if testing.Short() {
		t.Skip("短模式下跳過壓力測試")
	}

	manager := internal.NewManager(0, newTestLogger())
	t.Cleanup(manager.Stop)

	const rooms = 16

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			hostID := fmt.Sprintf("host_%03d", idx)
			room := manager.CreateRoom(
				internal.User{ID: hostID},
				&internal.MindmapNode{ID: "root", Label: "主題"})

			guestID := fmt.Sprintf("guest_%03d", idx)
			joined, participant := manager.JoinRoom(room.ID, internal.User{ID: guestID})
			require.NotNil(t, joined)
			require.NotNil(t, participant)

			for j := 0; j < 20; j++ {
				result := room.AddNode(guestID, &internal.MindmapNode{
					ID: fmt.Sprintf("node_%d_%d", idx, j),
				}, "root")
				assert.True(t, result.Success)
			}

			manager.LeaveRoom(room.ID, guestID)
			manager.LeaveRoom(room.ID, hostID)
		}(i)
	}
	wg.Wait()

	// 所有參與者離開後零人房間一律不存在
	assert.Equal(t, 0, manager.RoomCount())
}

package api

import (
	"net/http"
	"time"

	"AuraFilm-server/models"
	"AuraFilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Gate 由 main 注入，配额查询接口使用
var Gate *service.RateGate

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 任务进度 WebSocket 推送。以数据库为来源：处理器把进度写回 task 行，
// 这里每秒轮询并推送变化，直到任务进入终态。
func TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	t, err := models.GetTaskByID(taskID)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"error": "task not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(t)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := t.Status
	prevProgress := t.Progress

	for range ticker.C {
		cur, err := models.GetTaskByID(taskID)
		if err != nil {
			continue
		}

		if cur.Status != prevStatus || cur.Progress != prevProgress {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prevStatus = cur.Status
			prevProgress = cur.Progress
		}

		if cur.Status == models.TaskStatusSuccess || cur.Status == models.TaskStatusFailed {
			_ = conn.WriteJSON(cur)
			break
		}
	}
}

// 查询任务状态：GET /v1/api/tasks/:task_id
func GetTaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTaskByID(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

// 取消任务：只对正在执行的渲染/合成生效
func CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")
	if !service.CancelRenderTask(taskID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不在执行中"})
		return
	}
	msg := "cancelled by user"
	_ = models.UpdateTaskStatus(taskID, models.TaskStatusFailed, nil, &msg, nil, nil, nil, nil)
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// 配额查询：当日已用/剩余
func GetQuota(c *gin.Context) {
	if Gate == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota gate not initialized"})
		return
	}
	c.JSON(http.StatusOK, Gate.Info())
}

package api

import (
	"log"
	"net/http"

	"AuraFilm-server/models"
	"AuraFilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 分镜列表（按 scene_number 升序）
func GetScenes(c *gin.Context) {
	projectID := c.Param("project_id")
	scenes, err := models.GetScenesByProjectID(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取分镜失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

// 单分镜重试：不影响其他分镜，重新走一遍渲染状态机
func RetryScene(c *gin.Context) {
	projectID := c.Param("project_id")
	sceneID := c.Param("scene_id")

	scene, err := models.GetSceneByID(projectID, sceneID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到: " + err.Error()})
		return
	}
	if scene.Status == models.SceneStatusRendering || scene.Status == models.SceneStatusPolling {
		c.JSON(http.StatusConflict, gin.H{"error": "分镜正在渲染中"})
		return
	}
	if !scene.Renderable() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "分镜缺少 videoPrompt"})
		return
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		SceneId:   sceneID,
		Type:      models.TaskTypeRenderScene,
		Status:    models.TaskStatusPending,
		Message:   "分镜重试任务已创建...",
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeRenderTask, task.ID); err != nil {
		log.Printf("重试任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"task_id": task.ID})
}

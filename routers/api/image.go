package api

import (
	"log"
	"net/http"
	"strconv"

	"AuraFilm-server/models"
	"AuraFilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Images 由 main 注入
var Images *service.ImageStore

// 图片生成：单张或批量（batch_size），支持参考图身份保持
func GenerateImages(c *gin.Context) {
	var req struct {
		Prompt        string  `json:"prompt"`
		Style         string  `json:"style"`
		AspectRatio   string  `json:"aspect_ratio"`
		Outfit        string  `json:"outfit"`
		ReferenceB64  string  `json:"reference_b64"`
		ImageStrength float64 `json:"image_strength"`
		BatchSize     int     `json:"batch_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt 不能为空"})
		return
	}
	if req.Style != "" && !models.ValidStyle(req.Style) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知风格: " + req.Style})
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}
	if !models.ValidAspectRatio(req.AspectRatio) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知画幅: " + req.AspectRatio})
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 1
	}
	if req.BatchSize > 4 {
		req.BatchSize = 4
	}

	task := models.Task{
		ID:      uuid.NewString(),
		Type:    models.TaskTypeImage,
		Status:  models.TaskStatusPending,
		Message: "图片生成任务已创建...",
		Parameters: models.TaskParameters{
			Image: &models.ImageParams{
				Prompt:        req.Prompt,
				Style:         req.Style,
				AspectRatio:   req.AspectRatio,
				Outfit:        req.Outfit,
				ReferenceB64:  req.ReferenceB64,
				ImageStrength: req.ImageStrength,
				BatchSize:     req.BatchSize,
			},
		},
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeImageTask, task.ID); err != nil {
		log.Printf("图片任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"task_id": task.ID})
}

// 最近生成历史（Redis，头部最新）
func ImageHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	images, err := Images.History(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取历史失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

// 收藏开关
func ToggleFavorite(c *gin.Context) {
	imageID := c.Param("image_id")
	fav, err := Images.ToggleFavorite(c.Request.Context(), imageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "收藏操作失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_id": imageID, "favorited": fav})
}

func Favorites(c *gin.Context) {
	ids, err := Images.Favorites(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取收藏失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_ids": ids})
}

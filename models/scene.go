package models

import (
	"time"

	"gorm.io/gorm"
)

// 分镜（Scene）渲染状态机：
// idle → rendering → polling → done
// idle → rendering → polling → failed
// done / failed 为单次渲染的终态；重试会清空 progress/error 后重新进入 rendering。
const (
	SceneStatusIdle      = "idle"
	SceneStatusRendering = "rendering"
	SceneStatusPolling   = "polling"
	SceneStatusDone      = "done"
	SceneStatusFailed    = "failed"
)

type Scene struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId        string    `json:"projectId"`
	SceneNumber      int       `json:"sceneNumber"` // 1 起始，决定渲染与播放顺序
	Title            string    `json:"title"`
	Action           string    `json:"action"` // 人类可读的剧情概述
	VideoPrompt      string    `json:"videoPrompt"`
	AudioDescription string    `json:"audioDescription"`
	Narration        string    `json:"narration"`
	DurationSeconds  int       `json:"durationSeconds"`
	Status           string    `json:"status"`
	Progress         int       `json:"progress"` // 0-100，单次渲染内单调不减
	VideoUrl         string    `json:"videoUrl"` // 仅 status == done 时有值
	VideoRemote      bool      `json:"videoRemote"` // true 表示 VideoUrl 是 Provider 远程引用（下载降级）
	Error            string    `json:"error"` // 仅 status == failed 时有值
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// Renderable 判断分镜是否具备渲染条件（videoPrompt 是唯一必填字段）
func (s *Scene) Renderable() bool {
	return s.VideoPrompt != ""
}

// ResetForRetry 清空上一次渲染的运行时字段，重试前调用
func (s *Scene) ResetForRetry() {
	s.Status = SceneStatusIdle
	s.Progress = 0
	s.Error = ""
	s.VideoUrl = ""
	s.VideoRemote = false
}

func BatchCreateScenes(db *gorm.DB, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	return db.Create(&scenes).Error
}

func GetSceneByIDGorm(db *gorm.DB, sceneID string) (*Scene, error) {
	var scene Scene
	if err := db.First(&scene, "id = ?", sceneID).Error; err != nil {
		return nil, err
	}
	return &scene, nil
}

// UpdateRenderState 渲染过程中由 SceneRenderStage 独占写入的运行时字段
func (s *Scene) UpdateRenderState(db *gorm.DB) error {
	updates := map[string]interface{}{
		"status":       s.Status,
		"progress":     s.Progress,
		"video_url":    s.VideoUrl,
		"video_remote": s.VideoRemote,
		"error":        s.Error,
		"updated_at":   time.Now(),
	}
	return db.Model(s).Updates(updates).Error
}

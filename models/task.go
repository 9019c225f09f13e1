package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
)

// 任务状态（纯粹作为 UI 可见的审计记录，不参与管线正确性）
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"

	// 管线任务类型
	TaskTypeScreenplay   = "generate_screenplay" // 创意 -> 剧本分镜
	TaskTypeImportScript = "import_script"       // 已有剧本 -> 剧本分镜
	TaskTypeRenderFilm   = "render_film"         // 顺序渲染全部分镜
	TaskTypeRenderScene  = "render_scene"        // 单个分镜重试
	TaskTypeConcatFilm   = "concat_film"         // 后期合成
	TaskTypeImage        = "generate_image"      // 单次图片生成
)

type Task struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId  string         `json:"projectId"`
	SceneId    string         `json:"sceneId,omitempty"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message"`
	Parameters TaskParameters `gorm:"type:json" json:"parameters"`
	Result     TaskResult     `gorm:"type:json" json:"result"`
	Error      string         `json:"error"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type TaskParameters struct {
	Screenplay *ScreenplayParams `json:"screenplay,omitempty"`
	Render     *RenderParams     `json:"render,omitempty"`
	Image      *ImageParams      `json:"image,omitempty"`
}

type ScreenplayParams struct {
	Idea       string `json:"idea"`
	ScriptText string `json:"script_text,omitempty"`
	SceneCount int    `json:"scene_count"`
}

type RenderParams struct {
	AspectRatio string `json:"aspect_ratio"`
	Resolution  string `json:"resolution"`
}

type ImageParams struct {
	Prompt        string  `json:"prompt"`
	Style         string  `json:"style"`
	AspectRatio   string  `json:"aspect_ratio"`
	Outfit        string  `json:"outfit,omitempty"`
	ReferenceB64  string  `json:"reference_b64,omitempty"`
	ImageStrength float64 `json:"image_strength,omitempty"`
	BatchSize     int     `json:"batch_size,omitempty"`
}

// TaskResult 仅保留最小资源定位信息
type TaskResult struct {
	ResourceType string   `json:"resource_type"` // "scenes" / "video" / "image"
	ResourceUrl  string   `json:"resource_url"`
	ResourceUrls []string `json:"resource_urls,omitempty"` // 图片批量生成时使用
	Remote       bool     `json:"remote,omitempty"`        // 资源是 Provider 远程引用而非本地托管
	DoneCount    int      `json:"done_count,omitempty"`    // render_film 汇总
	FailedCount  int      `json:"failed_count,omitempty"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (p TaskParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (p *TaskParameters) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

func (r TaskResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *TaskResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, r)
}

func (t *Task) UpdateStatus(db *gorm.DB, status string, result interface{}, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if result != nil {
		jsonBytes, err := json.Marshal(result)
		if err != nil {
			log.Printf("序列化任务结果失败: %v", err)
		} else {
			updates["result"] = jsonBytes
		}
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if status == TaskStatusSuccess || status == TaskStatusFailed {
		updates["finished_at"] = time.Now()
	}
	return db.Model(t).Updates(updates).Error
}

func GetTaskByIDGorm(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// 强制指定表名为 "task"
func (Task) TableName() string {
	return "task"
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"AuraFilm-server/models"
)

// Screenwriter 剧本阶段：一次文本请求把创意（或粘贴的剧本）变成有序分镜列表
type Screenwriter struct {
	Provider  Provider
	Gate      *RateGate
	TextModel string
}

// rawScene Provider 返回的 JSON 元素，两种响应形状共用
type rawScene struct {
	Title            string `json:"title"`
	Duration         int    `json:"duration"`
	Action           string `json:"action"`
	VideoPrompt      string `json:"videoPrompt"`
	AudioDescription string `json:"audioDescription"`
	Narration        string `json:"narration"`
}

// GenerateScript 创意 -> 分镜。消耗一个配额单位，单次请求，严格 JSON 解析。
func (w *Screenwriter) GenerateScript(ctx context.Context, projectID, idea string, sceneCount int) ([]models.Scene, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, fmt.Errorf("idea 不能为空")
	}
	if sceneCount <= 0 {
		sceneCount = 3
	}
	return w.generate(ctx, projectID, TextRequest{
		Model:       w.TextModel,
		Prompt:      screenplayPrompt(idea, sceneCount),
		Temperature: 0.8,
	})
}

// ImportScript 已有剧本 -> 分镜。提取而非创作，所以温度压低。
func (w *Screenwriter) ImportScript(ctx context.Context, projectID, scriptText string) ([]models.Scene, error) {
	if strings.TrimSpace(scriptText) == "" {
		return nil, fmt.Errorf("剧本文本不能为空")
	}
	return w.generate(ctx, projectID, TextRequest{
		Model:       w.TextModel,
		Prompt:      importScriptPrompt(scriptText),
		Temperature: 0.2,
	})
}

func (w *Screenwriter) generate(ctx context.Context, projectID string, req TextRequest) ([]models.Scene, error) {
	if err := w.Gate.TryConsume(); err != nil {
		return nil, err
	}

	text, err := w.Provider.GenerateText(ctx, req)
	if err != nil {
		return nil, err
	}

	raws, err := parseSceneJSON(text)
	if err != nil {
		return nil, err
	}
	// videoPrompt 是渲染的唯一必填字段，缺失的分镜入库只会延迟到渲染时才暴露
	for i, r := range raws {
		if strings.TrimSpace(r.VideoPrompt) == "" {
			return nil, fmt.Errorf("%w: scene %d missing videoPrompt", ErrMalformedResponse, i+1)
		}
	}
	return normalizeScenes(projectID, raws), nil
}

// parseSceneJSON 接受两种响应形状：裸数组 [...] 或 {"scenes":[...]}
func parseSceneJSON(text string) ([]rawScene, error) {
	trimmed := strings.TrimSpace(text)

	var arr []rawScene
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
		if len(arr) == 0 {
			return nil, fmt.Errorf("%w: empty scene array", ErrMalformedResponse)
		}
		return arr, nil
	}

	var wrapped struct {
		Scenes []rawScene `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(wrapped.Scenes) == 0 {
		return nil, fmt.Errorf("%w: no scenes in response", ErrMalformedResponse)
	}
	return wrapped.Scenes, nil
}

// normalizeScenes 补默认值并编号：sceneNumber 从 1 开始连续递增
func normalizeScenes(projectID string, raws []rawScene) []models.Scene {
	now := time.Now()
	scenes := make([]models.Scene, 0, len(raws))
	for i, r := range raws {
		title := r.Title
		if title == "" {
			title = fmt.Sprintf("Scene %d", i+1)
		}
		duration := r.Duration
		if duration <= 0 {
			duration = 8
		}
		scenes = append(scenes, models.Scene{
			ID:               uuid.NewString(),
			ProjectId:        projectID,
			SceneNumber:      i + 1,
			Title:            title,
			Action:           r.Action,
			VideoPrompt:      r.VideoPrompt,
			AudioDescription: r.AudioDescription,
			Narration:        r.Narration,
			DurationSeconds:  duration,
			Status:           models.SceneStatusIdle,
			Progress:         0,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return scenes
}

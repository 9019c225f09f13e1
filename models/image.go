package models

import "time"

// GeneratedImage 图片生成历史条目，JSON 序列化后存入 Redis（非关系表）
type GeneratedImage struct {
	ID          string    `json:"id"`
	Url         string    `json:"url"`
	Prompt      string    `json:"prompt"`
	Style       string    `json:"style"`
	AspectRatio string    `json:"aspectRatio"`
	BatchId     string    `json:"batchId,omitempty"` // 同一批生成的分组 ID
	CreatedAt   time.Time `json:"createdAt"`
}

// 图片风格选项（对应前端风格面板）
var StyleOptions = []string{
	"Photorealistic",
	"Cinematic",
	"Anime",
	"Digital Art",
	"Fashion Editorial",
	"Cyberpunk",
	"Pixar Classic",
	"Modern Disney",
	"Claymation",
}

// 画幅比例选项
var AspectRatioOptions = []string{"9:16", "16:9", "1:1", "4:3", "3:4"}

func ValidStyle(s string) bool {
	for _, v := range StyleOptions {
		if v == s {
			return true
		}
	}
	return false
}

func ValidAspectRatio(r string) bool {
	for _, v := range AspectRatioOptions {
		if v == r {
			return true
		}
	}
	return false
}

package models

import "time"

// 项目（FilmProject）管线阶段，只会向前推进；
// 唯一的例外是后期合成失败时回退到 rendering，让用户不必重新渲染分镜。
const (
	PhaseIdea           = "idea"            // 项目已创建，剧本未生成
	PhaseScriptReady    = "script_ready"    // 剧本已生成，分镜已入库
	PhaseRendering      = "rendering"       // 分镜视频渲染中（或等待合成）
	PhasePostProduction = "post_production" // 最终影片合成中
	PhaseDone           = "done"            // 成片可播放/下载
)

type FilmProject struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title         string    `json:"title"`
	Idea          string    `json:"idea"` // 用户输入的创意或粘贴的剧本原文
	Phase         string    `json:"phase"`
	AspectRatio   string    `json:"aspectRatio"` // 16:9 / 9:16
	Resolution    string    `json:"resolution"`  // 720p / 1080p
	CharacterRef  string    `json:"characterRef"` // 角色参考图 base64（可为空）
	SceneCount    int       `json:"sceneCount"`
	FinalVideoUrl string    `json:"finalVideoUrl"`
	FinalRemote   bool      `json:"finalRemote"` // true 表示 finalVideoUrl 是 Provider 侧的远程引用
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (FilmProject) TableName() string {
	return "project"
}

// phaseRank 用于保证阶段单调推进（post_production 失败回退除外）
var phaseRank = map[string]int{
	PhaseIdea:           0,
	PhaseScriptReady:    1,
	PhaseRendering:      2,
	PhasePostProduction: 3,
	PhaseDone:           4,
}

// CanAdvanceTo 判断 from -> to 是否是合法的阶段迁移
func CanAdvanceTo(from, to string) bool {
	if to == PhaseRendering && from == PhasePostProduction {
		// 合成失败回退，分镜成果保留
		return true
	}
	return phaseRank[to] > phaseRank[from]
}

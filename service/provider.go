package service

import "context"

// 小于该字节数的「成片」按伪装的错误响应处理
const minArtifactSize = 1000

// Provider 抽象生成式 AI 服务，只暴露管线用到的四个能力：
// 文本生成、视频提交+轮询、单图生成、成片拉取。
// 具体厂商适配器（gemini.go）实现它；测试用假实现。
type Provider interface {
	// GenerateText 单次文本请求，要求返回严格 JSON 文本
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	// SubmitVideo 提交视频生成任务，返回可轮询的操作句柄
	SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error)
	// PollVideo 查询一次任务状态，返回更新后的句柄
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
	// GenerateImage 单次图片生成，区分「有图」「被拒」「响应异常」三种结果
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
	// FetchArtifact 按定位符拉取成品二进制（必要时走 key 鉴权改写）
	FetchArtifact(ctx context.Context, uri string) ([]byte, error)
}

type TextRequest struct {
	Model       string
	Prompt      string
	Temperature float32
}

type VideoRequest struct {
	Model           string
	Prompt          string
	AspectRatio     string // 16:9 / 9:16
	Resolution      string // 720p / 1080p
	DurationSeconds int
	ReferenceImage  []byte // 角色参考图，身份一致性条件（可空）
	ReferenceMIME   string
}

// VideoOperation 视频任务句柄。handle 是 Provider 私有状态，调用方只读公开字段。
type VideoOperation struct {
	Name       string
	Done       bool
	URI        string // 完成后的成片定位符
	VideoBytes []byte // 部分后端直接内联返回
	handle     interface{}
}

type ImageRequest struct {
	Model          string
	Prompt         string
	AspectRatio    string
	ReferenceImage []byte
	ReferenceMIME  string
}

type ImageResult struct {
	Data     []byte
	MIMEType string
}

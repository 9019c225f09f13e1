package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"AuraFilm-server/models"
)

// ArtifactStore 成片托管（MinIO 实现见 oss.go，测试用内存假实现）
type ArtifactStore interface {
	PutObject(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// Artifact 渲染产物引用。Remote=true 表示下载降级后直接引用 Provider 侧
// 定位符（生命周期和鉴权都跟本地托管不同，调用方必须区分对待）。
type Artifact struct {
	URL    string `json:"url"`
	Remote bool   `json:"remote"`
}

// ProgressEvent 类型化进度事件，UI/日志/测试共用同一条事件流
type ProgressEvent struct {
	SceneID     string
	SceneNumber int
	Progress    int
}

// RenderHooks 编排回调。所有字段可为 nil。
type RenderHooks struct {
	OnSceneProgress func(ev ProgressEvent)
	OnSceneComplete func(sceneID string, artifact Artifact)
	OnSceneError    func(sceneID string, errMsg string)
}

type RenderOptions struct {
	AspectRatio   string // 16:9 / 9:16
	Resolution    string // 720p / 1080p
	CharacterRef  []byte // 角色参考图（可空）
	CharacterMIME string
}

// RenderSummary 一轮顺序渲染的汇总
type RenderSummary struct {
	Done   int `json:"done"`
	Failed int `json:"failed"`
}

// Renderer 驱动单个分镜走完 提交 → 轮询 → 取片 的状态机，
// 并提供严格顺序的整片编排。视频生成是管线里最慢、最不稳的一步，
// 所以它有自己的一档慢速退避（30s 起步），与 RateGate 的快速重试分开。
type Renderer struct {
	Provider   Provider
	Gate       *RateGate
	Store      ArtifactStore
	VideoModel string

	PollInterval  time.Duration // 常规轮询间隔，默认 10s
	PollErrorWait time.Duration // 单次轮询出错后的短等待，默认 5s
	MaxPolls      int           // 轮询上限，默认 60（约 10 分钟）
	SubmitRetries int           // 提交阶段重试次数上限
	SubmitDelay   time.Duration // 提交重试基础延迟，默认 30s
	Cooldown      time.Duration // 分镜之间的冷却，默认 5s
}

func NewRenderer(provider Provider, gate *RateGate, store ArtifactStore, videoModel string) *Renderer {
	return &Renderer{
		Provider:      provider,
		Gate:          gate,
		Store:         store,
		VideoModel:    videoModel,
		PollInterval:  10 * time.Second,
		PollErrorWait: 5 * time.Second,
		MaxPolls:      60,
		SubmitRetries: 4,
		SubmitDelay:   30 * time.Second,
		Cooldown:      5 * time.Second,
	}
}

// RenderScene 渲染单个分镜。scene 的运行时字段（status/progress/videoUrl/error）
// 由本方法独占写入；进度在单次尝试内单调不减。
func (r *Renderer) RenderScene(ctx context.Context, scene *models.Scene, opts RenderOptions, hooks RenderHooks) (Artifact, error) {
	if !scene.Renderable() {
		err := fmt.Errorf("分镜 %d 缺少 videoPrompt，无法渲染", scene.SceneNumber)
		r.fail(scene, hooks, err)
		return Artifact{}, err
	}

	scene.Status = models.SceneStatusRendering
	scene.Progress = 0
	scene.Error = ""

	if err := r.Gate.TryConsume(); err != nil {
		r.fail(scene, hooks, err)
		return Artifact{}, err
	}

	// 1. 提交。限流退避走慢速档：视频端点的恢复周期以十秒计
	req := VideoRequest{
		Model:           r.VideoModel,
		Prompt:          scene.VideoPrompt + videoStyleSuffix,
		AspectRatio:     opts.AspectRatio,
		Resolution:      opts.Resolution,
		DurationSeconds: scene.DurationSeconds,
		ReferenceImage:  opts.CharacterRef,
		ReferenceMIME:   opts.CharacterMIME,
	}
	r.bumpProgress(scene, hooks, 5)

	op, err := WithRetry(ctx, r.SubmitRetries, r.SubmitDelay, func() (*VideoOperation, error) {
		return r.Provider.SubmitVideo(ctx, req)
	})
	if err != nil {
		r.fail(scene, hooks, err)
		return Artifact{}, err
	}
	r.bumpProgress(scene, hooks, 15)

	// 2. 轮询。单次轮询失败不中止循环，只短等待后继续；
	//    进度按轮询次数从 15 向 90 线性逼近。
	scene.Status = models.SceneStatusPolling
	pollCount := 0
	for !op.Done && pollCount < r.MaxPolls {
		if err := sleepCtx(ctx, r.PollInterval); err != nil {
			r.fail(scene, hooks, err)
			return Artifact{}, err
		}
		next, pollErr := r.Provider.PollVideo(ctx, op)
		if pollErr != nil {
			// 终态错误（任务已失败/响应形状坏了）立即中止，只有传输类错误才值得重试
			if errors.Is(pollErr, ErrProviderRefused) || errors.Is(pollErr, ErrMalformedResponse) {
				r.fail(scene, hooks, pollErr)
				return Artifact{}, pollErr
			}
			log.Printf("[Veo] 分镜 %d 轮询出错（第 %d 次，继续）: %v", scene.SceneNumber, pollCount, pollErr)
			if err := sleepCtx(ctx, r.PollErrorWait); err != nil {
				r.fail(scene, hooks, err)
				return Artifact{}, err
			}
		} else {
			op = next
		}
		pollCount++
		estimated := 15 + pollCount*75/r.MaxPolls
		if estimated > 90 {
			estimated = 90
		}
		r.bumpProgress(scene, hooks, estimated)
	}

	if !op.Done {
		err := fmt.Errorf("%w: 分镜 %d 超过 %d 次轮询仍未完成", ErrRenderTimeout, scene.SceneNumber, r.MaxPolls)
		r.fail(scene, hooks, err)
		return Artifact{}, err
	}
	r.bumpProgress(scene, hooks, 92)

	// 3. 取片并转存。下载失败降级为返回远程引用，不让整个分镜报废。
	artifact, err := r.retrieve(ctx, scene, op)
	if err != nil {
		r.fail(scene, hooks, err)
		return Artifact{}, err
	}

	scene.Status = models.SceneStatusDone
	scene.VideoUrl = artifact.URL
	scene.VideoRemote = artifact.Remote
	scene.Error = ""
	r.bumpProgress(scene, hooks, 100)
	if hooks.OnSceneComplete != nil {
		hooks.OnSceneComplete(scene.ID, artifact)
	}
	return artifact, nil
}

func (r *Renderer) retrieve(ctx context.Context, scene *models.Scene, op *VideoOperation) (Artifact, error) {
	data := op.VideoBytes
	if len(data) == 0 {
		if op.URI == "" {
			return Artifact{}, fmt.Errorf("%w: 分镜 %d 没有返回视频定位符", ErrMalformedResponse, scene.SceneNumber)
		}
		fetched, err := r.Provider.FetchArtifact(ctx, op.URI)
		if err != nil {
			// 降级：直接引用远程定位符（鉴权/生命周期由调用方自行处理）
			log.Printf("[Veo] 分镜 %d 下载失败，降级为远程引用: %v", scene.SceneNumber, err)
			return Artifact{URL: op.URI, Remote: true}, nil
		}
		data = fetched
	}

	objectName := fmt.Sprintf("scenes/%s/scene_%02d.mp4", scene.ProjectId, scene.SceneNumber)
	url, err := r.Store.PutObject(ctx, objectName, data, "video/mp4")
	if err != nil {
		if op.URI != "" {
			log.Printf("[Veo] 分镜 %d 转存失败，降级为远程引用: %v", scene.SceneNumber, err)
			return Artifact{URL: op.URI, Remote: true}, nil
		}
		return Artifact{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return Artifact{URL: url}, nil
}

// RenderAll 严格按 sceneNumber 升序逐个渲染，绝不并发——Provider 的
// 配额窗口太紧，并发提交必然触发限流，顺序 + 冷却就是这里的准入控制。
// 单个分镜失败只记录在该分镜上，批次继续。
func (r *Renderer) RenderAll(ctx context.Context, scenes []*models.Scene, opts RenderOptions, hooks RenderHooks) RenderSummary {
	ordered := make([]*models.Scene, len(scenes))
	copy(ordered, scenes)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].SceneNumber < ordered[j-1].SceneNumber; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var summary RenderSummary
	for i, scene := range ordered {
		if i > 0 {
			// 冷却期：给 Provider 的速率窗口留出余量
			if err := sleepCtx(ctx, r.Cooldown); err != nil {
				r.fail(scene, hooks, err)
				summary.Failed++
				continue
			}
		}
		if _, err := r.RenderScene(ctx, scene, opts, hooks); err != nil {
			summary.Failed++
			continue
		}
		summary.Done++
	}
	log.Printf("[Veo] 批次渲染完成: %d 成功 / %d 失败", summary.Done, summary.Failed)
	return summary
}

// bumpProgress 只升不降，保证单次渲染内进度单调
func (r *Renderer) bumpProgress(scene *models.Scene, hooks RenderHooks, p int) {
	if p <= scene.Progress {
		return
	}
	scene.Progress = p
	if hooks.OnSceneProgress != nil {
		hooks.OnSceneProgress(ProgressEvent{SceneID: scene.ID, SceneNumber: scene.SceneNumber, Progress: p})
	}
}

func (r *Renderer) fail(scene *models.Scene, hooks RenderHooks, err error) {
	scene.Status = models.SceneStatusFailed
	scene.Error = err.Error()
	if hooks.OnSceneError != nil {
		hooks.OnSceneError(scene.ID, err.Error())
	}
	if !errors.Is(err, context.Canceled) {
		log.Printf("[Veo] 分镜 %d 渲染失败: %v", scene.SceneNumber, err)
	}
}

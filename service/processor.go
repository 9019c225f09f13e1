package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"AuraFilm-server/config"
	"AuraFilm-server/models"
)

// 渲染取消注册表（taskID -> cancelFunc），外部 API 可中途取消长任务
var renderCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

func RegisterRenderCancel(taskID string, cancel context.CancelFunc) {
	renderCancelRegistry.Lock()
	defer renderCancelRegistry.Unlock()
	renderCancelRegistry.m[taskID] = cancel
}

func UnregisterRenderCancel(taskID string) {
	renderCancelRegistry.Lock()
	defer renderCancelRegistry.Unlock()
	delete(renderCancelRegistry.m, taskID)
}

// CancelRenderTask 取消正在执行的任务，返回是否实际找到并取消
func CancelRenderTask(taskID string) bool {
	renderCancelRegistry.Lock()
	defer renderCancelRegistry.Unlock()
	if cancel, ok := renderCancelRegistry.m[taskID]; ok {
		cancel()
		delete(renderCancelRegistry.m, taskID)
		return true
	}
	return false
}

// Processor 消费队列任务，驱动整条管线：
// 剧本生成 → 分镜渲染 → 后期合成，外加独立的图片生成。
type Processor struct {
	DB     *gorm.DB
	Gate   *RateGate
	Store  *MinioStore
	Images *ImageStore
	Writer *Screenwriter
}

func NewProcessor(db *gorm.DB, gate *RateGate, store *MinioStore) *Processor {
	return &Processor{
		DB:     db,
		Gate:   gate,
		Store:  store,
		Images: &ImageStore{},
		Writer: &Screenwriter{
			Provider:  DefaultProvider,
			Gate:      gate,
			TextModel: config.AppConfig.Gemini.TextModel,
		},
	}
}

// StartProcessor 启动任务消费者。Concurrency=1 不是偶然：Provider 的
// 配额窗口容不下并发渲染，队列天然串行化了整个生成负载。
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeScreenplayTask, p.HandleScreenplayTask)
	mux.HandleFunc(TypeRenderTask, p.HandleRenderTask)
	mux.HandleFunc(TypeConcatTask, p.HandleConcatTask)
	mux.HandleFunc(TypeImageTask, p.HandleImageTask)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// loadTask 公共前置：取任务行并标记 processing
func (p *Processor) loadTask(t *asynq.Task) (*models.Task, error) {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	task, err := models.GetTaskByIDGorm(p.DB, payload.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task not found: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("Processing Task: %s | Type: %s", task.ID, task.Type)
	now := time.Now()
	_ = models.UpdateTaskStatus(task.ID, models.TaskStatusProcessing, nil, nil, nil, nil, &now, nil)
	return task, nil
}

// failTask 业务失败：记录在任务行上，不触发队列重试
func (p *Processor) failTask(task *models.Task, err error) error {
	log.Printf("[Task] %s 失败: %v", task.ID, err)
	if uerr := task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, err.Error()); uerr != nil {
		log.Printf("UpdateStatus failed: %v", uerr)
	}
	return nil
}

// HandleScreenplayTask 创意/剧本文本 -> 分镜列表入库
func (p *Processor) HandleScreenplayTask(ctx context.Context, t *asynq.Task) error {
	task, err := p.loadTask(t)
	if err != nil {
		return err
	}
	params := task.Parameters.Screenplay
	if params == nil {
		return p.failTask(task, fmt.Errorf("missing screenplay parameters"))
	}

	var scenes []models.Scene
	if task.Type == models.TaskTypeImportScript {
		scenes, err = p.Writer.ImportScript(ctx, task.ProjectId, params.ScriptText)
	} else {
		scenes, err = p.Writer.GenerateScript(ctx, task.ProjectId, params.Idea, params.SceneCount)
	}
	if err != nil {
		return p.failTask(task, err)
	}

	if err := models.BatchCreateScenes(p.DB, scenes); err != nil {
		return p.failTask(task, fmt.Errorf("批量创建分镜失败: %v", err))
	}
	if err := models.UpdateProjectPhase(task.ProjectId, models.PhaseScriptReady); err != nil {
		return p.failTask(task, err)
	}

	result := &models.TaskResult{ResourceType: "scenes", DoneCount: len(scenes)}
	_ = task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
	log.Printf("剧本生成完成: 项目 %s 共 %d 个分镜", task.ProjectId, len(scenes))
	return nil
}

// HandleRenderTask 分镜渲染。render_film 顺序渲染整片；
// render_scene 只重试单个分镜（先清空上次的运行时状态）。
func (p *Processor) HandleRenderTask(ctx context.Context, t *asynq.Task) error {
	task, err := p.loadTask(t)
	if err != nil {
		return err
	}

	renderCtx, cancel := context.WithCancel(ctx)
	RegisterRenderCancel(task.ID, cancel)
	defer UnregisterRenderCancel(task.ID)

	project, err := models.GetProjectByID(task.ProjectId)
	if err != nil {
		return p.failTask(task, fmt.Errorf("project not found: %v", err))
	}

	opts := RenderOptions{AspectRatio: project.AspectRatio, Resolution: project.Resolution}
	if params := task.Parameters.Render; params != nil {
		if params.AspectRatio != "" {
			opts.AspectRatio = params.AspectRatio
		}
		if params.Resolution != "" {
			opts.Resolution = params.Resolution
		}
	}
	if project.CharacterRef != "" {
		opts.CharacterRef, opts.CharacterMIME = decodeDataImage(project.CharacterRef)
	}

	renderer := p.newRenderer()

	if task.Type == models.TaskTypeRenderScene {
		return p.renderSingleScene(renderCtx, task, renderer, opts)
	}

	// 整片渲染：项目进入 rendering 阶段
	if err := models.UpdateProjectPhase(task.ProjectId, models.PhaseRendering); err != nil {
		return p.failTask(task, err)
	}

	sceneRows, err := models.GetScenesByProjectID(task.ProjectId)
	if err != nil {
		return p.failTask(task, fmt.Errorf("load scenes failed: %v", err))
	}
	if len(sceneRows) == 0 {
		return p.failTask(task, fmt.Errorf("项目 %s 没有分镜，先生成剧本", task.ProjectId))
	}

	scenes := make([]*models.Scene, len(sceneRows))
	for i := range sceneRows {
		scenes[i] = &sceneRows[i]
	}

	total := len(scenes)
	finished := 0
	hooks := p.persistHooks(task.ID, scenes, func(sceneProgress int) int {
		// 任务整体进度 = 已完成分镜 + 当前分镜的份额
		return (finished*100 + sceneProgress) / total
	})

	summary := renderer.RenderAll(renderCtx, scenes, opts, RenderHooks{
		OnSceneProgress: hooks.OnSceneProgress,
		OnSceneComplete: func(sceneID string, artifact Artifact) {
			finished++
			hooks.OnSceneComplete(sceneID, artifact)
		},
		OnSceneError: func(sceneID string, errMsg string) {
			finished++
			hooks.OnSceneError(sceneID, errMsg)
		},
	})

	result := &models.TaskResult{ResourceType: "scenes", DoneCount: summary.Done, FailedCount: summary.Failed}
	if summary.Done == 0 {
		_ = task.UpdateStatus(p.DB, models.TaskStatusFailed, result, "所有分镜渲染失败")
		return nil
	}
	_ = task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
	return nil
}

func (p *Processor) renderSingleScene(ctx context.Context, task *models.Task, renderer *Renderer, opts RenderOptions) error {
	scene, err := models.GetSceneByIDGorm(p.DB, task.SceneId)
	if err != nil {
		return p.failTask(task, fmt.Errorf("scene not found: %v", err))
	}

	// 重试语义：清空上次的运行时字段再走状态机
	scene.ResetForRetry()
	if err := scene.UpdateRenderState(p.DB); err != nil {
		log.Printf("重置分镜状态失败: %v", err)
	}

	hooks := p.persistHooks(task.ID, []*models.Scene{scene}, func(sceneProgress int) int {
		return sceneProgress
	})
	artifact, err := renderer.RenderScene(ctx, scene, opts, hooks)
	if err != nil {
		return p.failTask(task, err)
	}

	result := &models.TaskResult{ResourceType: "video", ResourceUrl: artifact.URL, Remote: artifact.Remote}
	_ = task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
	return nil
}

// persistHooks 把渲染器的内存状态变化持久化到 scene 行和 task 行
func (p *Processor) persistHooks(taskID string, scenes []*models.Scene, taskProgress func(sceneProgress int) int) RenderHooks {
	byID := make(map[string]*models.Scene, len(scenes))
	for _, s := range scenes {
		byID[s.ID] = s
	}
	persist := func(sceneID string) {
		if s, ok := byID[sceneID]; ok {
			if err := s.UpdateRenderState(p.DB); err != nil {
				log.Printf("持久化分镜状态失败: %v", err)
			}
		}
	}
	return RenderHooks{
		OnSceneProgress: func(ev ProgressEvent) {
			persist(ev.SceneID)
			overall := taskProgress(ev.Progress)
			_ = models.UpdateTaskStatus(taskID, "", &overall, nil, nil, nil, nil, nil)
		},
		OnSceneComplete: func(sceneID string, _ Artifact) { persist(sceneID) },
		OnSceneError:    func(sceneID string, _ string) { persist(sceneID) },
	}
}

func (p *Processor) newRenderer() *Renderer {
	cfg := config.AppConfig
	r := NewRenderer(DefaultProvider, p.Gate, p.Store, cfg.Gemini.VideoModel)
	r.PollInterval = time.Duration(cfg.Pipeline.PollIntervalSec) * time.Second
	r.MaxPolls = cfg.Pipeline.MaxPolls
	r.Cooldown = time.Duration(cfg.Pipeline.CooldownSec) * time.Second
	return r
}

// HandleConcatTask 后期合成：把全部已完成分镜按序拼成成片。
// 合成本身不设超时，这里用外部时钟跟它赛跑；超时或失败都把项目
// 阶段回退到 rendering，分镜成果保留，用户可直接重试合成。
func (p *Processor) HandleConcatTask(ctx context.Context, t *asynq.Task) error {
	task, err := p.loadTask(t)
	if err != nil {
		return err
	}

	concatCtx, cancel := context.WithCancel(ctx)
	RegisterRenderCancel(task.ID, cancel)
	defer UnregisterRenderCancel(task.ID)

	if err := models.UpdateProjectPhase(task.ProjectId, models.PhasePostProduction); err != nil {
		return p.failTask(task, err)
	}

	scenes, err := models.GetScenesByProjectID(task.ProjectId)
	if err != nil {
		return p.concatFailed(task, fmt.Errorf("load scenes failed: %v", err))
	}

	// 只收已完成的分镜，保持 scene_number 顺序（查询已排序）
	var urls []string
	remoteInput := false
	for _, s := range scenes {
		if s.Status == models.SceneStatusDone && s.VideoUrl != "" {
			urls = append(urls, s.VideoUrl)
			remoteInput = remoteInput || s.VideoRemote
		}
	}
	if len(urls) == 0 {
		return p.concatFailed(task, fmt.Errorf("没有可合成的分镜成片"))
	}

	workDir := filepath.Join("/tmp", "aurafilm", task.ProjectId)
	concat := NewConcatenator(workDir)
	concat.ClipLoadTimeout = time.Duration(config.AppConfig.Pipeline.ClipLoadTimeout) * time.Second

	timeout := time.Duration(config.AppConfig.Pipeline.ConcatTimeout) * time.Second
	raceCtx, raceCancel := context.WithTimeout(concatCtx, timeout)
	defer raceCancel()

	onProgress := func(pr int) {
		_ = models.UpdateTaskStatus(task.ID, "", &pr, nil, nil, nil, nil, nil)
	}
	output, err := concat.Concatenate(raceCtx, urls, onProgress)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(raceCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: 合成超过 %v 未完成", ErrPostProductionTimeout, timeout)
		}
		return p.concatFailed(task, err)
	}

	// 单分镜时 Concatenate 原样返回 URL，不需要再托管
	finalURL := output
	finalRemote := false
	if output == urls[0] && len(urls) == 1 {
		finalRemote = remoteInput
	} else {
		project, perr := models.GetProjectByID(task.ProjectId)
		title := task.ProjectId
		if perr == nil && project.Title != "" {
			title = project.Title
		}
		objectName := "films/" + task.ProjectId + "/" + ArtifactName("film", title, "mp4")
		finalURL, err = p.Store.PutFile(concatCtx, output, objectName)
		if err != nil {
			return p.concatFailed(task, fmt.Errorf("%w: %v", ErrDownloadFailed, err))
		}
	}

	if err := models.SetProjectFinalVideo(task.ProjectId, finalURL, finalRemote); err != nil {
		return p.concatFailed(task, err)
	}
	if err := models.UpdateProjectPhase(task.ProjectId, models.PhaseDone); err != nil {
		return p.concatFailed(task, err)
	}

	result := &models.TaskResult{ResourceType: "video", ResourceUrl: finalURL, Remote: finalRemote}
	_ = task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
	log.Printf("项目 %s 成片完成: %s", task.ProjectId, finalURL)
	return nil
}

// concatFailed 合成失败的统一收尾：任务标失败，项目阶段回退
func (p *Processor) concatFailed(task *models.Task, err error) error {
	if perr := models.UpdateProjectPhase(task.ProjectId, models.PhaseRendering); perr != nil {
		log.Printf("项目阶段回退失败: %v", perr)
	}
	return p.failTask(task, err)
}

// HandleImageTask 独立的图片生成。限流重试走快速档（秒级退避），
// 跟视频提交的慢速档分开。
func (p *Processor) HandleImageTask(ctx context.Context, t *asynq.Task) error {
	task, err := p.loadTask(t)
	if err != nil {
		return err
	}
	params := task.Parameters.Image
	if params == nil {
		return p.failTask(task, fmt.Errorf("missing image parameters"))
	}

	batch := params.BatchSize
	if batch <= 0 {
		batch = 1
	}
	var refImage []byte
	var refMIME string
	if params.ReferenceB64 != "" {
		refImage, refMIME = decodeDataImage(params.ReferenceB64)
	}

	prompt := imagePrompt(params.Prompt, params.Style, params.Outfit, len(refImage) > 0, params.ImageStrength)
	req := ImageRequest{
		Model:          config.AppConfig.Gemini.ImageModel,
		Prompt:         prompt,
		AspectRatio:    params.AspectRatio,
		ReferenceImage: refImage,
		ReferenceMIME:  refMIME,
	}

	batchID := uuid.NewString()
	var urls []string
	for i := 0; i < batch; i++ {
		if err := p.Gate.TryConsume(); err != nil {
			if len(urls) > 0 {
				break // 批次中途配额耗尽：保留已生成的部分
			}
			return p.failTask(task, err)
		}
		img, err := WithRetry(ctx, 3, 2*time.Second, func() (*ImageResult, error) {
			return DefaultProvider.GenerateImage(ctx, req)
		})
		if err != nil {
			if len(urls) > 0 {
				log.Printf("[Image] 批次第 %d 张失败（保留已生成的 %d 张）: %v", i+1, len(urls), err)
				break
			}
			return p.failTask(task, err)
		}

		ext := "png"
		if strings.Contains(img.MIMEType, "jpeg") {
			ext = "jpg"
		}
		objectName := "images/" + ArtifactName("img", params.Prompt, ext)
		url, err := p.Store.PutObject(ctx, objectName, img.Data, img.MIMEType)
		if err != nil {
			return p.failTask(task, fmt.Errorf("%w: %v", ErrDownloadFailed, err))
		}
		urls = append(urls, url)

		if herr := p.Images.AddHistory(ctx, models.GeneratedImage{
			ID:          uuid.NewString(),
			Url:         url,
			Prompt:      params.Prompt,
			Style:       params.Style,
			AspectRatio: params.AspectRatio,
			BatchId:     batchID,
			CreatedAt:   time.Now(),
		}); herr != nil {
			log.Printf("[Image] 写入历史失败（跳过）: %v", herr)
		}
	}

	result := &models.TaskResult{ResourceType: "image", ResourceUrls: urls}
	if len(urls) == 1 {
		result.ResourceUrl = urls[0]
	}
	_ = task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
	return nil
}

// decodeDataImage 解析 data URL 或裸 base64，返回字节和 MIME 类型
func decodeDataImage(s string) ([]byte, string) {
	mime := "image/png"
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ";base64,"); idx > 0 {
			mime = s[len("data:"):idx]
			s = s[idx+len(";base64,"):]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		log.Printf("参考图 base64 解码失败: %v", err)
		return nil, ""
	}
	return data, mime
}

package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"AuraFilm-server/config"
)

// asynq 任务类型，按管线阶段划分队列消息
const (
	TypeScreenplayTask = "film:screenplay"
	TypeRenderTask     = "film:render"
	TypeConcatTask     = "film:concat"
	TypeImageTask      = "image:generate"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// 渲染超时预算按此分镜数上限计（剧本默认 3 镜，导入剧本可能更多）
const maxScenesPerRender = 12

// taskTimeout 渲染任务的队列超时按管线参数推导：固定值会在多个分镜
// 都顶到轮询上限时提前杀掉还在正常推进的任务。
func taskTimeout(queueType string) time.Duration {
	floor := 30 * time.Minute
	if queueType != TypeRenderTask || config.AppConfig == nil {
		return floor
	}
	cfg := config.AppConfig.Pipeline
	// 单镜预算：轮询上限 + 提交阶段 30s 档的重试退避 + 冷却
	perScene := time.Duration(cfg.MaxPolls*cfg.PollIntervalSec+cfg.CooldownSec)*time.Second + 4*time.Minute
	total := maxScenesPerRender * perScene
	if total < floor {
		return floor
	}
	return total
}

// EnqueueTask 通用入队接口。DB 里的 task 行先落库，队列消息只带 ID。
// 注意 MaxRetry(0)：配额/重试逻辑全在业务层自己管，asynq 的盲重试
// 会把一次失败放大成多次 Provider 扣费。
func EnqueueTask(queueType, taskID string) error {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(queueType, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(taskTimeout(queueType)),
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Task Enqueued: Type=%s, TaskID=%s, QueueID=%s", queueType, taskID, info.ID)
	return nil
}

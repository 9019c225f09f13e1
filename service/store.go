package service

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"AuraFilm-server/config"
	"AuraFilm-server/models"
)

var RedisClient *redis.Client

const (
	quotaDateKey   = "aura:quota:date"
	quotaCountKey  = "aura:quota:count"
	favoritesKey   = "aura:images:favorites"
	historyKey     = "aura:images:history"
	historyMaxSize = 200
)

// InitRedis 初始化连接，在 main.go 中调用
func InitRedis() {
	cfg := config.AppConfig.Redis
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := RedisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis 连接失败: %v", err)
	}
	log.Println("Redis 连接成功")
}

// RedisQuotaStore QuotaStore 的 Redis 实现。读写失败一律降级：
// 配额计数在内存里照常工作，只是重启后会清零。
type RedisQuotaStore struct{}

func (s *RedisQuotaStore) LoadQuota() (string, int, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	date, err := RedisClient.Get(ctx, quotaDateKey).Result()
	if err != nil {
		return "", 0, false
	}
	raw, err := RedisClient.Get(ctx, quotaCountKey).Result()
	if err != nil {
		return "", 0, false
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, false
	}
	return date, count, true
}

func (s *RedisQuotaStore) SaveQuota(date string, count int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 48h 过期兜底，隔日的残留值会被 RateGate 的日期比对丢弃
	if err := RedisClient.Set(ctx, quotaDateKey, date, 48*time.Hour).Err(); err != nil {
		log.Printf("[Quota] 持久化失败（跳过）: %v", err)
		return
	}
	_ = RedisClient.Set(ctx, quotaCountKey, count, 48*time.Hour).Err()
}

// ImageStore 图片生成的历史和收藏，都放 Redis（不进 MySQL）
type ImageStore struct{}

// AddHistory 头插历史条目并截断到上限
func (s *ImageStore) AddHistory(ctx context.Context, img models.GeneratedImage) error {
	data, err := json.Marshal(img)
	if err != nil {
		return err
	}
	pipe := RedisClient.TxPipeline()
	pipe.LPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, 0, historyMaxSize-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *ImageStore) History(ctx context.Context, limit int) ([]models.GeneratedImage, error) {
	if limit <= 0 || limit > historyMaxSize {
		limit = historyMaxSize
	}
	rows, err := RedisClient.LRange(ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	images := make([]models.GeneratedImage, 0, len(rows))
	for _, row := range rows {
		var img models.GeneratedImage
		if err := json.Unmarshal([]byte(row), &img); err != nil {
			// 坏条目跳过，不让整个列表挂掉
			log.Printf("[Image] 历史条目解析失败（跳过）: %v", err)
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *ImageStore) ToggleFavorite(ctx context.Context, imageID string) (bool, error) {
	isMember, err := RedisClient.SIsMember(ctx, favoritesKey, imageID).Result()
	if err != nil {
		return false, err
	}
	if isMember {
		return false, RedisClient.SRem(ctx, favoritesKey, imageID).Err()
	}
	return true, RedisClient.SAdd(ctx, favoritesKey, imageID).Err()
}

func (s *ImageStore) Favorites(ctx context.Context) ([]string, error) {
	return RedisClient.SMembers(ctx, favoritesKey).Result()
}

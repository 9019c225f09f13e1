package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"AuraFilm-server/config"
)

var MinioClient *minio.Client

// InitMinIO 初始化连接，在 main.go 中调用
func InitMinIO() {
	cfg := config.AppConfig.MinIO
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	log.Println("MinIO 连接成功")
}

// MinioStore ArtifactStore 的 MinIO 实现，管线产物统一托管于此
type MinioStore struct {
	Bucket string
}

func NewMinioStore() *MinioStore {
	return &MinioStore{Bucket: config.AppConfig.MinIO.Bucket}
}

func (m *MinioStore) PutObject(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := MinioClient.PutObject(ctx, m.Bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}
	return m.presign(ctx, objectName)
}

// PutFile 上传本地文件（后期合成的输出走这里）
func (m *MinioStore) PutFile(ctx context.Context, localPath, objectName string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}
	contentType := contentTypeByExt(objectName)
	_, err := MinioClient.FPutObject(ctx, m.Bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}
	return m.presign(ctx, objectName)
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := MinioClient.BucketExists(ctx, m.Bucket)
	if err != nil {
		return fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := MinioClient.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		log.Printf("Bucket '%s' 已创建", m.Bucket)
	}
	return nil
}

// 生成预签名 URL（72 小时有效期）
func (m *MinioStore) presign(ctx context.Context, objectName string) (string, error) {
	expiry := time.Hour * 72
	reqParams := make(url.Values)
	presignedURL, err := MinioClient.PresignedGetObject(ctx, m.Bucket, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	return presignedURL.String(), nil
}

func contentTypeByExt(name string) string {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ArtifactName 下载产物的确定性命名: <prefix>_<源文本前30字符清洗>_<时间戳>.<ext>
func ArtifactName(prefix, source, ext string) string {
	s := strings.TrimSpace(source)
	if len(s) > 30 {
		s = s[:30]
	}
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "untitled"
	}
	return fmt.Sprintf("%s_%s_%d.%s", prefix, s, time.Now().Unix(), ext)
}

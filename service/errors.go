package service

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// 管线错误分类。哨兵错误配合 errors.Is 使用，包装时保留人类可读信息。
var (
	// ErrQuotaExceeded RateGate 拒绝请求，当日配额耗尽（当前操作失败，会话可继续）
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrProviderRefused 安全/引用等原因被 Provider 拒绝，需用户修改输入
	ErrProviderRefused = errors.New("generation refused by provider")
	// ErrMalformedResponse Provider 返回的不是合法 JSON 或形状不对，可原样重试
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrRenderTimeout 轮询次数达到上限，仅该分镜失败
	ErrRenderTimeout = errors.New("render polling timed out")
	// ErrDownloadFailed 成片下载失败（降级为返回远程引用，不中断渲染）
	ErrDownloadFailed = errors.New("artifact download failed")
	// ErrPostProductionTimeout 合成超出外部时钟预算，分镜成果保留可重试
	ErrPostProductionTimeout = errors.New("post-production timed out")
	// ErrClipLoadTimeout 某个输入片段无法加载，整个合成中止
	ErrClipLoadTimeout = errors.New("clip failed to load")
)

// IsRetryable 判断错误是否属于瞬时/限流类，可走退避重试。
// 识别 429/503 状态码以及 rate/quota 口径的错误消息。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		// 本地配额耗尽要等到隔天，重试无意义
		return false
	}
	if code := statusCodeOf(err); code == 429 || code == 503 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"429", "503", "rate limit", "rate-limit", "quota", "resource_exhausted", "overloaded"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// statusCoder 供测试桩实现
type statusCoder interface {
	HTTPStatusCode() int
}

func statusCodeOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

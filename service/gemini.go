package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"AuraFilm-server/config"
)

// 允许创作向内容（剧本、电影桥段）通过安全过滤
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// GeminiProvider 基于 google.golang.org/genai 的 Provider 实现
type GeminiProvider struct {
	client *genai.Client
	apiKey string
	http   *http.Client
}

var DefaultProvider Provider

// InitProvider 初始化全局 Provider，在 main.go 中调用
func InitProvider(ctx context.Context) {
	p, err := NewGeminiProvider(ctx, config.AppConfig.Gemini.APIKey)
	if err != nil {
		log.Fatalf("Gemini Provider 初始化失败: %v", err)
	}
	DefaultProvider = p
	log.Println("Gemini Provider 初始化成功")
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{
		client: client,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (p *GeminiProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
		SafetySettings:   safetySettings,
	})
	if err != nil {
		return "", fmt.Errorf("text generation request: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	if err := checkFinishReason(resp.Candidates[0].FinishReason); err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformedResponse)
	}
	return text, nil
}

// checkFinishReason 非 STOP 的结束原因按类型映射为用户可见错误
func checkFinishReason(reason genai.FinishReason) error {
	switch reason {
	case "", genai.FinishReasonStop:
		return nil
	case genai.FinishReasonSafety:
		return fmt.Errorf("%w: 内容触发安全过滤，请调整输入 (SAFETY)", ErrProviderRefused)
	case genai.FinishReasonRecitation:
		return fmt.Errorf("%w: 内容疑似复述受版权保护的材料 (RECITATION)", ErrProviderRefused)
	default:
		return fmt.Errorf("%w: 生成中断 (%s)", ErrProviderRefused, reason)
	}
}

func (p *GeminiProvider) SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error) {
	cfg := &genai.GenerateVideosConfig{
		AspectRatio:      req.AspectRatio,
		Resolution:       req.Resolution,
		DurationSeconds:  genai.Ptr(int32(req.DurationSeconds)),
		PersonGeneration: "allow_adult",
	}

	// 角色参考图作为首帧条件传入，保证人物一致性
	var refImage *genai.Image
	if len(req.ReferenceImage) > 0 {
		mime := req.ReferenceMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		refImage = &genai.Image{ImageBytes: req.ReferenceImage, MIMEType: mime}
	}

	op, err := p.client.Models.GenerateVideos(ctx, req.Model, req.Prompt, refImage, cfg)
	if err != nil {
		return nil, fmt.Errorf("video submit: %w", err)
	}
	return &VideoOperation{Name: op.Name, handle: op}, nil
}

func (p *GeminiProvider) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	raw, ok := op.handle.(*genai.GenerateVideosOperation)
	if !ok {
		return nil, fmt.Errorf("invalid video operation handle")
	}
	raw, err := p.client.Operations.GetVideosOperation(ctx, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("video poll: %w", err)
	}

	next := &VideoOperation{Name: raw.Name, Done: raw.Done, handle: raw}
	if !raw.Done {
		return next, nil
	}
	if raw.Error != nil {
		// 任务已终态失败，不是瞬时错误，不能再轮询
		return nil, fmt.Errorf("%w: video generation failed: %v", ErrProviderRefused, raw.Error)
	}
	if raw.Response == nil || len(raw.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("%w: operation done but no video", ErrMalformedResponse)
	}
	video := raw.Response.GeneratedVideos[0].Video
	if video == nil {
		return nil, fmt.Errorf("%w: video object is nil", ErrMalformedResponse)
	}
	next.URI = video.URI
	next.VideoBytes = video.VideoBytes
	return next, nil
}

func (p *GeminiProvider) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	parts := []*genai.Part{}
	// 参考图放在最前面，文本指令在后
	if len(req.ReferenceImage) > 0 {
		mime := req.ReferenceMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: req.ReferenceImage}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	contents := []*genai.Content{{Parts: parts, Role: genai.RoleUser}}
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, &genai.GenerateContentConfig{
		SafetySettings: safetySettings,
		ImageConfig:    &genai.ImageConfig{AspectRatio: req.AspectRatio},
	})
	if err != nil {
		return nil, fmt.Errorf("image generation request: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	cand := resp.Candidates[0]
	if err := checkFinishReason(cand.FinishReason); err != nil {
		return nil, err
	}
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	for _, part := range cand.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &ImageResult{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
		}
	}
	// 没有图片数据：如果模型用文本解释了拒绝原因，归类为被拒
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			snippet := part.Text
			if len(snippet) > 100 {
				snippet = snippet[:100] + "..."
			}
			return nil, fmt.Errorf("%w: 模型返回了文本而不是图片: %q", ErrProviderRefused, snippet)
		}
	}
	return nil, fmt.Errorf("%w: no image data in response", ErrMalformedResponse)
}

// FetchArtifact 拉取成片二进制。Provider 域名的定位符需要附带 key 鉴权参数
// （对应浏览器侧的同源代理 /api/gemini/...?alt=media&key=... 路径）。
func (p *GeminiProvider) FetchArtifact(ctx context.Context, uri string) ([]byte, error) {
	fetchURL := uri
	if u, err := url.Parse(uri); err == nil && strings.Contains(u.Host, "generativelanguage.googleapis.com") {
		q := u.Query()
		q.Set("alt", "media")
		q.Set("key", p.apiKey)
		u.RawQuery = q.Encode()
		fetchURL = u.String()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if len(data) < minArtifactSize {
		// 太小的响应基本是伪装成成片的错误体
		return nil, fmt.Errorf("%w: suspicious payload (%d bytes)", ErrDownloadFailed, len(data))
	}
	return data, nil
}

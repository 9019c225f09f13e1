package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"AuraFilm-server/models"
)

// fakeProvider Provider 的测试实现，按字段注入各能力
type fakeProvider struct {
	generateText  func(ctx context.Context, req TextRequest) (string, error)
	submitVideo   func(ctx context.Context, req VideoRequest) (*VideoOperation, error)
	pollVideo     func(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
	generateImage func(ctx context.Context, req ImageRequest) (*ImageResult, error)
	fetchArtifact func(ctx context.Context, uri string) ([]byte, error)
}

func (f *fakeProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	return f.generateText(ctx, req)
}
func (f *fakeProvider) SubmitVideo(ctx context.Context, req VideoRequest) (*VideoOperation, error) {
	return f.submitVideo(ctx, req)
}
func (f *fakeProvider) PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error) {
	return f.pollVideo(ctx, op)
}
func (f *fakeProvider) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	return f.generateImage(ctx, req)
}
func (f *fakeProvider) FetchArtifact(ctx context.Context, uri string) ([]byte, error) {
	return f.fetchArtifact(ctx, uri)
}

type memArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemArtifactStore() *memArtifactStore {
	return &memArtifactStore{objects: make(map[string][]byte)}
}

func (m *memArtifactStore) PutObject(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return "https://store.local/" + objectName, nil
}

func testScene(number int) *models.Scene {
	return &models.Scene{
		ID:              fmt.Sprintf("scene-%d", number),
		ProjectId:       "proj-1",
		SceneNumber:     number,
		Title:           fmt.Sprintf("Scene %d", number),
		VideoPrompt:     fmt.Sprintf("prompt for scene %d", number),
		DurationSeconds: 8,
		Status:          models.SceneStatusIdle,
	}
}

func testRenderer(provider Provider, store ArtifactStore) *Renderer {
	r := NewRenderer(provider, NewRateGate(100, nil), store, "veo-test")
	r.PollInterval = 0
	r.PollErrorWait = 0
	r.SubmitDelay = 0
	r.Cooldown = 0
	return r
}

func TestRenderSceneSuccess(t *testing.T) {
	swapSleep(t)

	polls := 0
	provider := &fakeProvider{
		submitVideo: func(_ context.Context, req VideoRequest) (*VideoOperation, error) {
			if req.DurationSeconds != 8 {
				t.Errorf("duration = %d, want 8", req.DurationSeconds)
			}
			return &VideoOperation{Name: "op-1"}, nil
		},
		pollVideo: func(_ context.Context, op *VideoOperation) (*VideoOperation, error) {
			polls++
			if polls < 3 {
				return &VideoOperation{Name: op.Name}, nil
			}
			return &VideoOperation{Name: op.Name, Done: true, VideoBytes: []byte("fake-mp4")}, nil
		},
	}
	store := newMemArtifactStore()
	r := testRenderer(provider, store)
	scene := testScene(1)

	var events []int
	hooks := RenderHooks{
		OnSceneProgress: func(ev ProgressEvent) { events = append(events, ev.Progress) },
	}
	artifact, err := r.RenderScene(context.Background(), scene, RenderOptions{}, hooks)
	if err != nil {
		t.Fatalf("RenderScene: %v", err)
	}
	if artifact.Remote {
		t.Fatal("artifact should be locally hosted")
	}
	if scene.Status != models.SceneStatusDone || scene.Progress != 100 {
		t.Fatalf("status=%s progress=%d", scene.Status, scene.Progress)
	}
	if scene.VideoUrl != artifact.URL {
		t.Fatalf("scene url %q != artifact url %q", scene.VideoUrl, artifact.URL)
	}
	if _, ok := store.objects["scenes/proj-1/scene_01.mp4"]; !ok {
		t.Fatal("artifact not stored")
	}
	// 进度单调不减，终值 100
	for i := 1; i < len(events); i++ {
		if events[i] <= events[i-1] {
			t.Fatalf("progress not monotone: %v", events)
		}
	}
	if len(events) == 0 || events[len(events)-1] != 100 {
		t.Fatalf("progress events = %v", events)
	}
}

func TestRenderSceneMissingPrompt(t *testing.T) {
	r := testRenderer(&fakeProvider{}, newMemArtifactStore())
	scene := testScene(1)
	scene.VideoPrompt = ""

	if _, err := r.RenderScene(context.Background(), scene, RenderOptions{}, RenderHooks{}); err == nil {
		t.Fatal("expected error for missing prompt")
	}
	if scene.Status != models.SceneStatusFailed || scene.Error == "" {
		t.Fatalf("status=%s error=%q", scene.Status, scene.Error)
	}
}

func TestRenderScenePollCeiling(t *testing.T) {
	swapSleep(t)

	provider := &fakeProvider{
		submitVideo: func(_ context.Context, _ VideoRequest) (*VideoOperation, error) {
			return &VideoOperation{Name: "op-1"}, nil
		},
		pollVideo: func(_ context.Context, op *VideoOperation) (*VideoOperation, error) {
			return &VideoOperation{Name: op.Name}, nil
		},
	}
	r := testRenderer(provider, newMemArtifactStore())
	r.MaxPolls = 5
	scene := testScene(1)

	_, err := r.RenderScene(context.Background(), scene, RenderOptions{}, RenderHooks{})
	if !errors.Is(err, ErrRenderTimeout) {
		t.Fatalf("expected ErrRenderTimeout, got %v", err)
	}
	if scene.Status != models.SceneStatusFailed {
		t.Fatalf("status = %s", scene.Status)
	}
	// 轮询阶段的进度封顶 90
	if scene.Progress > 90 {
		t.Fatalf("progress = %d, should not exceed 90 before retrieval", scene.Progress)
	}
}

func TestRenderSceneTerminalPollErrorFailsFast(t *testing.T) {
	swapSleep(t)

	polls := 0
	provider := &fakeProvider{
		submitVideo: func(_ context.Context, _ VideoRequest) (*VideoOperation, error) {
			return &VideoOperation{Name: "op-1"}, nil
		},
		pollVideo: func(_ context.Context, _ *VideoOperation) (*VideoOperation, error) {
			polls++
			return nil, fmt.Errorf("%w: video generation failed: safety violation", ErrProviderRefused)
		},
	}
	r := testRenderer(provider, newMemArtifactStore())
	scene := testScene(1)

	_, err := r.RenderScene(context.Background(), scene, RenderOptions{}, RenderHooks{})
	if !errors.Is(err, ErrProviderRefused) {
		t.Fatalf("expected ErrProviderRefused, got %v", err)
	}
	// 终态错误不该被当成瞬时错误重试到轮询上限
	if polls != 1 {
		t.Fatalf("polls = %d, want 1", polls)
	}
	if scene.Status != models.SceneStatusFailed {
		t.Fatalf("status = %s", scene.Status)
	}
}

func TestRenderSceneDownloadDegradesToRemote(t *testing.T) {
	swapSleep(t)

	provider := &fakeProvider{
		submitVideo: func(_ context.Context, _ VideoRequest) (*VideoOperation, error) {
			return &VideoOperation{Name: "op-1"}, nil
		},
		pollVideo: func(_ context.Context, op *VideoOperation) (*VideoOperation, error) {
			return &VideoOperation{Name: op.Name, Done: true, URI: "https://provider.example/files/v1"}, nil
		},
		fetchArtifact: func(_ context.Context, _ string) ([]byte, error) {
			return nil, fmt.Errorf("%w: status 403", ErrDownloadFailed)
		},
	}
	r := testRenderer(provider, newMemArtifactStore())
	scene := testScene(1)

	artifact, err := r.RenderScene(context.Background(), scene, RenderOptions{}, RenderHooks{})
	if err != nil {
		t.Fatalf("download failure must degrade, not fail: %v", err)
	}
	if !artifact.Remote || artifact.URL != "https://provider.example/files/v1" {
		t.Fatalf("artifact = %+v", artifact)
	}
	if scene.Status != models.SceneStatusDone || !scene.VideoRemote {
		t.Fatalf("status=%s remote=%v", scene.Status, scene.VideoRemote)
	}
}

func TestRenderAllIsolatesFailure(t *testing.T) {
	swapSleep(t)

	provider := &fakeProvider{
		submitVideo: func(_ context.Context, req VideoRequest) (*VideoOperation, error) {
			if req.DurationSeconds == 0 {
				return nil, errors.New("invalid scene")
			}
			return &VideoOperation{Name: "op"}, nil
		},
		pollVideo: func(_ context.Context, op *VideoOperation) (*VideoOperation, error) {
			return &VideoOperation{Name: op.Name, Done: true, VideoBytes: []byte("mp4")}, nil
		},
	}
	r := testRenderer(provider, newMemArtifactStore())

	// 乱序输入，2 号分镜构造为必然失败
	s1, s2, s3 := testScene(1), testScene(2), testScene(3)
	s2.DurationSeconds = 0
	scenes := []*models.Scene{s3, s1, s2}

	var completed []int
	summary := r.RenderAll(context.Background(), scenes, RenderOptions{}, RenderHooks{
		OnSceneComplete: func(sceneID string, _ Artifact) {
			for _, s := range scenes {
				if s.ID == sceneID {
					completed = append(completed, s.SceneNumber)
				}
			}
		},
	})

	if summary.Done != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if s1.Status != models.SceneStatusDone || s3.Status != models.SceneStatusDone {
		t.Fatalf("s1=%s s3=%s", s1.Status, s3.Status)
	}
	if s2.Status != models.SceneStatusFailed || s2.Error == "" {
		t.Fatalf("s2 status=%s error=%q", s2.Status, s2.Error)
	}
	// 完成顺序必须按 sceneNumber 升序
	if len(completed) != 2 || completed[0] != 1 || completed[1] != 3 {
		t.Fatalf("completion order = %v", completed)
	}
}

func TestRenderSceneQuotaExceeded(t *testing.T) {
	provider := &fakeProvider{
		submitVideo: func(_ context.Context, _ VideoRequest) (*VideoOperation, error) {
			t.Fatal("submit must not be called when quota exhausted")
			return nil, nil
		},
	}
	r := testRenderer(provider, newMemArtifactStore())
	r.Gate = NewRateGate(0, nil)
	scene := testScene(1)

	_, err := r.RenderScene(context.Background(), scene, RenderOptions{}, RenderHooks{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestRenderSceneRetryResetsState(t *testing.T) {
	scene := testScene(1)
	scene.Status = models.SceneStatusFailed
	scene.Progress = 42
	scene.Error = "boom"
	scene.VideoUrl = "stale"
	scene.VideoRemote = true

	scene.ResetForRetry()
	if scene.Status != models.SceneStatusIdle || scene.Progress != 0 ||
		scene.Error != "" || scene.VideoUrl != "" || scene.VideoRemote {
		t.Fatalf("reset incomplete: %+v", scene)
	}
}

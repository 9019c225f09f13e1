package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"AuraFilm-server/models"
)

const sceneArrayJSON = `[
  {"title": "The Discovery", "duration": 8, "action": "A robot finds a flower.",
   "videoPrompt": "Dolly in on a small robot...", "audioDescription": "soft wind", "narration": "It began with a flower."},
  {"title": "", "duration": 0, "action": "",
   "videoPrompt": "Crane shot over the city...", "audioDescription": "", "narration": ""}
]`

func testWriter(provider Provider) *Screenwriter {
	return &Screenwriter{Provider: provider, Gate: NewRateGate(100, nil), TextModel: "gemini-test"}
}

func TestGenerateScriptNumbersScenes(t *testing.T) {
	var gotReq TextRequest
	provider := &fakeProvider{
		generateText: func(_ context.Context, req TextRequest) (string, error) {
			gotReq = req
			return sceneArrayJSON, nil
		},
	}
	w := testWriter(provider)

	scenes, err := w.GenerateScript(context.Background(), "proj-1", "a robot finds a flower", 2)
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if gotReq.Temperature != 0.8 {
		t.Errorf("temperature = %v, want 0.8", gotReq.Temperature)
	}
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes", len(scenes))
	}
	for i, s := range scenes {
		if s.SceneNumber != i+1 {
			t.Errorf("scene %d numbered %d", i, s.SceneNumber)
		}
		if s.ID == "" || s.ProjectId != "proj-1" {
			t.Errorf("scene %d identity: id=%q project=%q", i, s.ID, s.ProjectId)
		}
		if s.Status != models.SceneStatusIdle || s.Progress != 0 {
			t.Errorf("scene %d initial state: %s/%d", i, s.Status, s.Progress)
		}
	}
	// 缺省值补齐
	if scenes[1].Title != "Scene 2" {
		t.Errorf("default title = %q", scenes[1].Title)
	}
	if scenes[1].DurationSeconds != 8 {
		t.Errorf("default duration = %d", scenes[1].DurationSeconds)
	}
}

func TestGenerateScriptWrappedShape(t *testing.T) {
	provider := &fakeProvider{
		generateText: func(_ context.Context, _ TextRequest) (string, error) {
			return fmt.Sprintf(`{"scenes": %s}`, sceneArrayJSON), nil
		},
	}
	scenes, err := testWriter(provider).GenerateScript(context.Background(), "proj-1", "idea", 2)
	if err != nil {
		t.Fatalf("wrapped shape: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes", len(scenes))
	}
}

func TestGenerateScriptMalformed(t *testing.T) {
	cases := []string{
		"not json at all",
		"[]",
		`{"scenes": []}`,
		`{"foo": "bar"}`,
		// videoPrompt 缺失或为空
		`[{"title": "A", "duration": 8, "videoPrompt": "ok"}, {"title": "B", "duration": 8, "videoPrompt": ""}]`,
		`[{"title": "A", "duration": 8}]`,
	}
	for _, body := range cases {
		provider := &fakeProvider{
			generateText: func(_ context.Context, _ TextRequest) (string, error) {
				return body, nil
			},
		}
		_, err := testWriter(provider).GenerateScript(context.Background(), "proj-1", "idea", 3)
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("body %q: expected ErrMalformedResponse, got %v", body, err)
		}
	}
}

func TestGenerateScriptEmptyIdea(t *testing.T) {
	w := testWriter(&fakeProvider{})
	if _, err := w.GenerateScript(context.Background(), "proj-1", "   ", 3); err == nil {
		t.Fatal("expected error for blank idea")
	}
}

func TestGenerateScriptQuotaExceeded(t *testing.T) {
	provider := &fakeProvider{
		generateText: func(_ context.Context, _ TextRequest) (string, error) {
			t.Fatal("provider must not be called when quota exhausted")
			return "", nil
		},
	}
	w := testWriter(provider)
	w.Gate = NewRateGate(0, nil)

	_, err := w.GenerateScript(context.Background(), "proj-1", "idea", 3)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestImportScriptLowTemperature(t *testing.T) {
	var gotReq TextRequest
	provider := &fakeProvider{
		generateText: func(_ context.Context, req TextRequest) (string, error) {
			gotReq = req
			return sceneArrayJSON, nil
		},
	}
	scenes, err := testWriter(provider).ImportScript(context.Background(), "proj-1", "Scene 1 (0:00 - 0:08): Prompt ...")
	if err != nil {
		t.Fatalf("ImportScript: %v", err)
	}
	// 提取而非创作
	if gotReq.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", gotReq.Temperature)
	}
	if len(scenes) != 2 || scenes[0].SceneNumber != 1 {
		t.Fatalf("scenes = %+v", scenes)
	}
}

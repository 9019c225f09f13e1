package service

import (
	"testing"
	"time"

	"AuraFilm-server/config"
)

func setPipelineConfig(t *testing.T, maxPolls, pollIntervalSec, cooldownSec int) {
	t.Helper()
	orig := config.AppConfig
	t.Cleanup(func() { config.AppConfig = orig })
	config.AppConfig = &config.Config{}
	config.AppConfig.Pipeline.MaxPolls = maxPolls
	config.AppConfig.Pipeline.PollIntervalSec = pollIntervalSec
	config.AppConfig.Pipeline.CooldownSec = cooldownSec
}

func TestTaskTimeoutScalesWithPolling(t *testing.T) {
	setPipelineConfig(t, 60, 10, 5)

	got := taskTimeout(TypeRenderTask)
	perScene := time.Duration(60*10+5)*time.Second + 4*time.Minute
	want := maxScenesPerRender * perScene
	if got != want {
		t.Fatalf("render timeout = %v, want %v", got, want)
	}
	// 最坏情况（全部分镜顶到轮询上限）必须装得下
	worstCase := maxScenesPerRender * time.Duration(60*10) * time.Second
	if got <= worstCase {
		t.Fatalf("timeout %v does not cover worst-case polling %v", got, worstCase)
	}
}

func TestTaskTimeoutFloor(t *testing.T) {
	setPipelineConfig(t, 1, 1, 0)

	if got := taskTimeout(TypeRenderTask); got != 30*time.Minute {
		t.Fatalf("tiny pipeline should floor at 30m, got %v", got)
	}
	// 非渲染类任务用固定预算
	if got := taskTimeout(TypeImageTask); got != 30*time.Minute {
		t.Fatalf("image timeout = %v", got)
	}
	if got := taskTimeout(TypeConcatTask); got != 30*time.Minute {
		t.Fatalf("concat timeout = %v", got)
	}
}

package models

import "testing"

func TestCanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{PhaseIdea, PhaseScriptReady, true},
		{PhaseScriptReady, PhaseRendering, true},
		{PhaseRendering, PhasePostProduction, true},
		{PhasePostProduction, PhaseDone, true},
		// 跳阶推进允许（合成直接从 script_ready 触发的场景不存在，但阶段只要求单调）
		{PhaseIdea, PhaseRendering, true},
		// 回退只允许合成失败这一条路径
		{PhasePostProduction, PhaseRendering, true},
		{PhaseDone, PhaseRendering, false},
		{PhaseRendering, PhaseScriptReady, false},
		{PhaseScriptReady, PhaseIdea, false},
		{PhaseDone, PhaseIdea, false},
	}
	for _, c := range cases {
		if got := CanAdvanceTo(c.from, c.to); got != c.want {
			t.Errorf("CanAdvanceTo(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestSceneRenderable(t *testing.T) {
	s := &Scene{VideoPrompt: "a shot"}
	if !s.Renderable() {
		t.Fatal("scene with prompt should be renderable")
	}
	s.VideoPrompt = ""
	if s.Renderable() {
		t.Fatal("scene without prompt should not be renderable")
	}
}

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"
)

func testConcatenator(t *testing.T) *Concatenator {
	t.Helper()
	c := NewConcatenator(t.TempDir())
	c.fetch = func(_ context.Context, _ string, dest string) error {
		return os.WriteFile(dest, bytes.Repeat([]byte("x"), 2048), 0644)
	}
	c.probe = func(_ string) (clipInfo, error) {
		return clipInfo{Width: 1280, Height: 720, Duration: 8}, nil
	}
	c.run = func(_ context.Context, _ []string, _, _ int, output, _ string) error {
		return os.WriteFile(output, bytes.Repeat([]byte("y"), 4096), 0644)
	}
	return c
}

func TestConcatenateSingleClipNoOp(t *testing.T) {
	c := NewConcatenator(t.TempDir())
	touched := false
	c.fetch = func(_ context.Context, _, _ string) error { touched = true; return nil }
	c.probe = func(_ string) (clipInfo, error) { touched = true; return clipInfo{}, nil }
	c.run = func(_ context.Context, _ []string, _, _ int, _, _ string) error { touched = true; return nil }

	out, err := c.Concatenate(context.Background(), []string{"https://host/one.mp4"}, nil)
	if err != nil {
		t.Fatalf("single clip: %v", err)
	}
	if out != "https://host/one.mp4" {
		t.Fatalf("out = %q", out)
	}
	if touched {
		t.Fatal("single clip must not touch the compose machinery")
	}
}

func TestConcatenateEmptyInput(t *testing.T) {
	c := NewConcatenator(t.TempDir())
	if _, err := c.Concatenate(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestConcatenatePreloadFailureAborts(t *testing.T) {
	c := testConcatenator(t)
	c.fetch = func(_ context.Context, url, dest string) error {
		if url == "https://host/two.mp4" {
			return errors.New("connection refused")
		}
		return os.WriteFile(dest, bytes.Repeat([]byte("x"), 2048), 0644)
	}
	ran := false
	c.run = func(_ context.Context, _ []string, _, _ int, _, _ string) error { ran = true; return nil }

	urls := []string{"https://host/one.mp4", "https://host/two.mp4", "https://host/three.mp4"}
	_, err := c.Concatenate(context.Background(), urls, nil)
	if !errors.Is(err, ErrClipLoadTimeout) {
		t.Fatalf("expected ErrClipLoadTimeout, got %v", err)
	}
	if ran {
		t.Fatal("compose must not run after a preload failure")
	}
}

func TestConcatenateClipTimeout(t *testing.T) {
	c := testConcatenator(t)
	c.ClipLoadTimeout = 10 * time.Millisecond
	c.fetch = func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	urls := []string{"https://host/one.mp4", "https://host/two.mp4"}
	_, err := c.Concatenate(context.Background(), urls, nil)
	if !errors.Is(err, ErrClipLoadTimeout) {
		t.Fatalf("expected ErrClipLoadTimeout, got %v", err)
	}
}

func TestConcatenateProgressMonotone(t *testing.T) {
	c := testConcatenator(t)

	var events []int
	urls := []string{"https://host/one.mp4", "https://host/two.mp4", "https://host/three.mp4"}
	out, err := c.Concatenate(context.Background(), urls, func(p int) { events = append(events, p) })
	if err != nil {
		t.Fatalf("Concatenate: %v", err)
	}
	if st, err := os.Stat(out); err != nil || st.Size() < minArtifactSize {
		t.Fatalf("output invalid: %v", err)
	}
	if len(events) == 0 || events[len(events)-1] != 100 {
		t.Fatalf("events = %v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i] <= events[i-1] {
			t.Fatalf("progress not monotone: %v", events)
		}
	}
}

func TestConcatenateEncoderProgressConcurrent(t *testing.T) {
	c := testConcatenator(t)
	// 模拟 ffmpeg 往 -progress socket 写进度，与主流程的收尾上报并发
	c.run = func(_ context.Context, _ []string, _, _ int, output, sock string) error {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return err
		}
		for _, us := range []int64{2_000_000, 8_000_000, 14_000_000} {
			fmt.Fprintf(conn, "out_time_ms=%d\n", us)
		}
		conn.Close()
		return os.WriteFile(output, bytes.Repeat([]byte("y"), 4096), 0644)
	}

	var events []int
	urls := []string{"https://host/one.mp4", "https://host/two.mp4"}
	if _, err := c.Concatenate(context.Background(), urls, func(p int) { events = append(events, p) }); err != nil {
		t.Fatalf("Concatenate: %v", err)
	}
	if len(events) == 0 || events[len(events)-1] != 100 {
		t.Fatalf("events = %v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i] <= events[i-1] {
			t.Fatalf("progress not monotone under concurrent reporting: %v", events)
		}
	}
}

func TestConcatenateRejectsTinyOutput(t *testing.T) {
	c := testConcatenator(t)
	c.run = func(_ context.Context, _ []string, _, _ int, output, _ string) error {
		return os.WriteFile(output, []byte("tiny"), 0644)
	}

	urls := []string{"https://host/one.mp4", "https://host/two.mp4"}
	_, err := c.Concatenate(context.Background(), urls, nil)
	if err == nil {
		t.Fatal("expected error for undersized output")
	}
}

func TestConcatenateCancelled(t *testing.T) {
	c := testConcatenator(t)
	ctx, cancel := context.WithCancel(context.Background())
	c.run = func(runCtx context.Context, _ []string, _, _ int, _, _ string) error {
		cancel()
		<-runCtx.Done()
		return runCtx.Err()
	}

	urls := []string{"https://host/one.mp4", "https://host/two.mp4"}
	_, err := c.Concatenate(ctx, urls, nil)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcatenateCanvasFromFirstClip(t *testing.T) {
	c := testConcatenator(t)
	probed := 0
	c.probe = func(path string) (clipInfo, error) {
		probed++
		return clipInfo{Width: 640, Height: 360, Duration: 6.5}, nil
	}
	var gotW, gotH int
	c.run = func(_ context.Context, _ []string, w, h int, output, _ string) error {
		gotW, gotH = w, h
		return os.WriteFile(output, bytes.Repeat([]byte("y"), 4096), 0644)
	}

	urls := []string{"https://host/one.mp4", "https://host/two.mp4"}
	if _, err := c.Concatenate(context.Background(), urls, nil); err != nil {
		t.Fatalf("Concatenate: %v", err)
	}
	if probed != 2 {
		t.Fatalf("probed %d clips", probed)
	}
	// 画布尺寸取第一个片段
	if gotW != 640 || gotH != 360 {
		t.Fatalf("canvas = %dx%d", gotW, gotH)
	}
}

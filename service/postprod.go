package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// clipInfo 预加载阶段探测到的片段元数据
type clipInfo struct {
	Width    int
	Height   int
	Duration float64 // 秒
}

// Concatenator 后期合成：把按序排列的分镜成片拼成一部影片。
// 用 ffmpeg 逐帧重编码（替代浏览器端的画布录制），进度由 ffmpeg 的
// -progress 流驱动，语义不变：预加载 5→15，合成 15→95，完成 100。
// 本阶段自身没有整体超时，调用方负责用外部时钟跟它赛跑。
type Concatenator struct {
	WorkDir         string
	ClipLoadTimeout time.Duration // 单个片段的下载+探测预算，默认 15s
	FrameRate       int           // 输出帧率，默认 30

	// 可注入，测试时替换为假实现
	fetch func(ctx context.Context, url, dest string) error
	probe func(path string) (clipInfo, error)
	run   func(ctx context.Context, inputs []string, width, height int, output, progressSock string) error
}

func NewConcatenator(workDir string) *Concatenator {
	c := &Concatenator{
		WorkDir:         workDir,
		ClipLoadTimeout: 15 * time.Second,
		FrameRate:       30,
	}
	c.fetch = fetchToFile
	c.probe = probeClip
	c.run = c.runConcat
	return c
}

// Concatenate 顺序合成。urls 必须非空；恰好一个时原样返回（不动任何
// 合成机器）。任何片段加载失败都会中止整个操作，不产出部分结果。
// 返回本地输出文件路径，由调用方决定托管方式。
func (c *Concatenator) Concatenate(ctx context.Context, videoUrls []string, onProgress func(int)) (string, error) {
	if len(videoUrls) == 0 {
		return "", fmt.Errorf("没有可合成的片段")
	}
	if len(videoUrls) == 1 {
		return videoUrls[0], nil
	}

	// 进度监听协程和主流程会并发上报，加锁保证单调且 onProgress 串行
	var progressMu sync.Mutex
	last := 0
	report := func(p int) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if p <= last {
			return
		}
		last = p
		if onProgress != nil {
			onProgress(p)
		}
	}
	report(2)

	if err := os.MkdirAll(c.WorkDir, 0755); err != nil {
		return "", fmt.Errorf("创建工作目录失败: %w", err)
	}

	// 1. 预加载：逐个拉取并探测元数据，累计总时长
	inputs := make([]string, len(videoUrls))
	infos := make([]clipInfo, len(videoUrls))
	var totalDuration float64
	for i, u := range videoUrls {
		dest := filepath.Join(c.WorkDir, fmt.Sprintf("clip_%02d.mp4", i+1))
		info, err := c.loadClip(ctx, u, dest)
		if err != nil {
			return "", fmt.Errorf("%w: 片段 %d: %v", ErrClipLoadTimeout, i+1, err)
		}
		log.Printf("[PostPro] 片段 %d: %dx%d, %.1fs", i+1, info.Width, info.Height, info.Duration)
		inputs[i] = dest
		infos[i] = info
		totalDuration += info.Duration
		report(5 + i*10/len(videoUrls))
	}
	log.Printf("[PostPro] 共 %d 个片段，总时长 %.1fs", len(videoUrls), totalDuration)
	report(15)

	// 2. 画布尺寸取第一个片段
	width, height := infos[0].Width, infos[0].Height
	if width == 0 || height == 0 {
		width, height = 1280, 720
	}

	// 3. 合成：ffmpeg -progress 写入 unix socket，按 out_time/总时长换算 15→95
	output := filepath.Join(c.WorkDir, "final_film.mp4")
	sockPath := filepath.Join(c.WorkDir, "progress.sock")
	stop, err := c.listenProgress(sockPath, totalDuration, report)
	if err != nil {
		log.Printf("[PostPro] 进度监听启动失败（忽略进度）: %v", err)
		sockPath = ""
	} else {
		defer stop()
	}

	if err := c.run(ctx, inputs, width, height, output, sockPath); err != nil {
		return "", fmt.Errorf("ffmpeg 合成失败: %w", err)
	}
	report(95)

	// 4. 收尾：产物过小说明编码链路坏了
	st, err := os.Stat(output)
	if err != nil {
		return "", fmt.Errorf("合成产物缺失: %w", err)
	}
	if st.Size() < minArtifactSize {
		return "", fmt.Errorf("合成产物异常 (%d bytes)", st.Size())
	}
	log.Printf("[PostPro] 完成，输出 %.1f MB", float64(st.Size())/1024/1024)
	report(100)
	return output, nil
}

// loadClip 单个片段的下载+探测，共用一份 ClipLoadTimeout 预算
func (c *Concatenator) loadClip(ctx context.Context, url, dest string) (clipInfo, error) {
	clipCtx, cancel := context.WithTimeout(ctx, c.ClipLoadTimeout)
	defer cancel()

	if err := c.fetch(clipCtx, url, dest); err != nil {
		return clipInfo{}, err
	}
	if err := clipCtx.Err(); err != nil {
		return clipInfo{}, err
	}
	return c.probe(dest)
}

// listenProgress 解析 ffmpeg 的 key=value 进度流（out_time_ms 单位是微秒）
func (c *Concatenator) listenProgress(sockPath string, totalDuration float64, report func(int)) (func(), error) {
	_ = os.Remove(sockPath)
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "out_time_ms=") {
				continue
			}
			us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
			if err != nil || totalDuration <= 0 {
				continue
			}
			elapsed := float64(us) / 1e6
			p := 15 + int(elapsed/totalDuration*80)
			if p > 95 {
				p = 95
			}
			report(p)
		}
	}()
	return func() {
		l.Close()
		_ = os.Remove(sockPath)
	}, nil
}

// runConcat 默认的 ffmpeg 执行器：统一缩放到画布尺寸后 concat 重编码。
// 分镜成片本身无声（画布录制语义），输出不带音轨。
func (c *Concatenator) runConcat(ctx context.Context, inputs []string, width, height int, output, progressSock string) error {
	streams := make([]*ffmpeg.Stream, len(inputs))
	scale := fmt.Sprintf("%d:%d", width, height)
	for i, in := range inputs {
		streams[i] = ffmpeg.Input(in).Filter("scale", ffmpeg.Args{scale})
	}

	stream := ffmpeg.Concat(streams).
		Output(output, ffmpeg.KwArgs{
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
			"r":       c.FrameRate,
			"preset":  "fast",
		}).
		OverWriteOutput()
	if progressSock != "" {
		stream = stream.GlobalArgs("-progress", "unix://"+progressSock)
	}

	cmd := stream.Compile()
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// 被外部时钟放弃时尽量杀掉进程，避免编码器泄漏
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

func fetchToFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// probeClip 读取片段的尺寸和时长
func probeClip(path string) (clipInfo, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return clipInfo{}, err
	}
	var parsed struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return clipInfo{}, err
	}
	info := clipInfo{}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	info.Duration, err = strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return clipInfo{}, fmt.Errorf("invalid duration %q", parsed.Format.Duration)
	}
	if info.Duration <= 0 {
		return clipInfo{}, errors.New("clip has no duration")
	}
	return info, nil
}

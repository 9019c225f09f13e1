package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Gemini struct {
		// API Key 从环境变量 GEMINI_API_KEY 读取，不放进 yaml
		APIKey     string `yaml:"-"`
		TextModel  string `yaml:"text_model"`
		VideoModel string `yaml:"video_model"`
		ImageModel string `yaml:"image_model"`
	} `yaml:"gemini"`
	Pipeline struct {
		DailyQuota      int `yaml:"daily_quota"`       // RateGate 每日请求上限
		PollIntervalSec int `yaml:"poll_interval_sec"` // 视频任务轮询间隔
		MaxPolls        int `yaml:"max_polls"`         // 轮询次数上限
		CooldownSec     int `yaml:"cooldown_sec"`      // 分镜之间的冷却时间
		ConcatTimeout   int `yaml:"concat_timeout_sec"`
		ClipLoadTimeout int `yaml:"clip_load_timeout_sec"`
	} `yaml:"pipeline"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
}

var AppConfig *Config

func InitConfig() {
	// .env 可选，生产环境直接用环境变量
	_ = godotenv.Load()

	f, err := os.Open("config/config.yaml")
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}

	AppConfig.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	if AppConfig.Gemini.APIKey == "" {
		log.Println("Warning: GEMINI_API_KEY 未设置，Provider 调用将失败")
	}

	// 默认值
	if AppConfig.Gemini.TextModel == "" {
		AppConfig.Gemini.TextModel = "gemini-2.5-flash"
	}
	if AppConfig.Gemini.VideoModel == "" {
		AppConfig.Gemini.VideoModel = "veo-3.1-generate-preview"
	}
	if AppConfig.Gemini.ImageModel == "" {
		AppConfig.Gemini.ImageModel = "gemini-3-pro-image-preview"
	}
	if AppConfig.Pipeline.DailyQuota <= 0 {
		AppConfig.Pipeline.DailyQuota = 250
	}
	if AppConfig.Pipeline.PollIntervalSec <= 0 {
		AppConfig.Pipeline.PollIntervalSec = 10
	}
	if AppConfig.Pipeline.MaxPolls <= 0 {
		AppConfig.Pipeline.MaxPolls = 60
	}
	if AppConfig.Pipeline.CooldownSec <= 0 {
		AppConfig.Pipeline.CooldownSec = 5
	}
	if AppConfig.Pipeline.ConcatTimeout <= 0 {
		AppConfig.Pipeline.ConcatTimeout = 120
	}
	if AppConfig.Pipeline.ClipLoadTimeout <= 0 {
		AppConfig.Pipeline.ClipLoadTimeout = 15
	}
}

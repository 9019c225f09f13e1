package main

import (
	"context"
	"fmt"

	"AuraFilm-server/config"
	"AuraFilm-server/models"
	"AuraFilm-server/routers"
	"AuraFilm-server/routers/api"
	"AuraFilm-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitRedis()
	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	service.InitProvider(context.Background())
	fmt.Println("Provider initialized")

	gate := service.NewRateGate(config.AppConfig.Pipeline.DailyQuota, &service.RedisQuotaStore{})
	store := service.NewMinioStore()

	// 并发度 1：Provider 配额窗口容不下并发生成
	processor := service.NewProcessor(models.GormDB, gate, store)
	processor.StartProcessor(1)

	api.Gate = gate
	api.Images = processor.Images

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}

package routers

import (
	"AuraFilm-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.POST("/projects/import", api.ImportProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/render", api.RenderProject)
		v1.POST("/projects/:project_id/film", api.ConcatProject)
		v1.GET("/projects/:project_id/scenes", api.GetScenes)
		v1.POST("/projects/:project_id/scenes/:scene_id/retry", api.RetryScene)
		v1.GET("/tasks/:task_id", api.GetTaskStatus)
		v1.DELETE("/tasks/:task_id", api.CancelTask)
		v1.POST("/images", api.GenerateImages)
		v1.GET("/images/history", api.ImageHistory)
		v1.POST("/images/:image_id/favorite", api.ToggleFavorite)
		v1.GET("/images/favorites", api.Favorites)
		v1.GET("/quota", api.GetQuota)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	return r
}

package api

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"AuraFilm-server/models"
	"AuraFilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建项目：用户创意 -> 项目 + 剧本生成任务
func CreateProject(c *gin.Context) {
	var req struct {
		Title        string `json:"title"`
		Idea         string `json:"idea"`
		SceneCount   int    `json:"scene_count"`
		AspectRatio  string `json:"aspect_ratio"`
		Resolution   string `json:"resolution"`
		CharacterRef string `json:"character_ref"` // base64 或 data URL，可空
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Idea) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idea 不能为空"})
		return
	}

	// 默认分镜数量
	if req.SceneCount <= 0 {
		req.SceneCount = 3
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}
	if req.Resolution == "" {
		req.Resolution = "720p"
	}

	title := req.Title
	if title == "" {
		title = req.Idea
		if len(title) > 60 {
			title = title[:60]
		}
	}

	project := models.FilmProject{
		ID:           uuid.NewString(),
		Title:        title,
		Idea:         req.Idea,
		Phase:        models.PhaseIdea,
		AspectRatio:  req.AspectRatio,
		Resolution:   req.Resolution,
		CharacterRef: req.CharacterRef,
		SceneCount:   req.SceneCount,
	}
	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: project.ID,
		Type:      models.TaskTypeScreenplay,
		Status:    models.TaskStatusPending,
		Message:   "项目已创建，正在生成剧本分镜...",
		Parameters: models.TaskParameters{
			Screenplay: &models.ScreenplayParams{
				Idea:       req.Idea,
				SceneCount: req.SceneCount,
			},
		},
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeScreenplayTask, task.ID); err != nil {
		log.Printf("剧本任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"task_id":    task.ID,
	})
}

// 导入剧本：已有剧本文本 -> 项目 + 解析任务（提取而非创作）
func ImportProject(c *gin.Context) {
	var req struct {
		Title        string `json:"title"`
		ScriptText   string `json:"script_text"`
		AspectRatio  string `json:"aspect_ratio"`
		Resolution   string `json:"resolution"`
		CharacterRef string `json:"character_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ScriptText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script_text 不能为空"})
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}
	if req.Resolution == "" {
		req.Resolution = "720p"
	}
	title := req.Title
	if title == "" {
		title = "Imported Script"
	}

	project := models.FilmProject{
		ID:           uuid.NewString(),
		Title:        title,
		Idea:         req.ScriptText,
		Phase:        models.PhaseIdea,
		AspectRatio:  req.AspectRatio,
		Resolution:   req.Resolution,
		CharacterRef: req.CharacterRef,
	}
	if err := models.CreateProject(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: project.ID,
		Type:      models.TaskTypeImportScript,
		Status:    models.TaskStatusPending,
		Message:   "剧本导入任务已创建，正在解析分镜...",
		Parameters: models.TaskParameters{
			Screenplay: &models.ScreenplayParams{
				ScriptText: req.ScriptText,
			},
		},
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeScreenplayTask, task.ID); err != nil {
		log.Printf("导入任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": project.ID,
		"task_id":    task.ID,
	})
}

// 获取项目详情（项目 + 分镜 + 最近任务）
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}

	scenes, err := models.GetScenesByProjectID(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取分镜失败: " + err.Error()})
		return
	}

	var recentTask *models.Task
	row := models.DB.QueryRow(`SELECT id FROM task WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`, projectID)
	var taskID string
	if err := row.Scan(&taskID); err != nil {
		if err != sql.ErrNoRows {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "查询最近任务失败: " + err.Error()})
			return
		}
	} else {
		if t, err := models.GetTaskByID(taskID); err == nil {
			recentTask = &t
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"project":     project,
		"scenes":      scenes,
		"recent_task": recentTask,
	})
}

// 删除项目（显式重置：项目连同分镜状态一起清除）
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	// 先取消正在执行的任务
	rows, err := models.DB.Query(`SELECT id FROM task WHERE project_id = ? AND status = ?`, projectID, models.TaskStatusProcessing)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var tid string
			if err := rows.Scan(&tid); err != nil {
				continue
			}
			if service.CancelRenderTask(tid) {
				log.Printf("Cancelled task %s before project delete", tid)
			}
			msg := "cancelled due to project delete"
			_ = models.UpdateTaskStatus(tid, models.TaskStatusFailed, nil, &msg, nil, nil, nil, nil)
		}
	}

	if err := models.DeleteProjectByID(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"deleteAt": time.Now(),
		"message":  "项目已删除",
	})
}

// 整片渲染：顺序渲染全部分镜
func RenderProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		AspectRatio string `json:"aspect_ratio"`
		Resolution  string `json:"resolution"`
	}
	// body 可为空，参数缺省用项目里的设置
	_ = c.ShouldBindJSON(&req)

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if project.Phase == models.PhaseIdea {
		c.JSON(http.StatusBadRequest, gin.H{"error": "剧本尚未生成，无法渲染"})
		return
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Type:      models.TaskTypeRenderFilm,
		Status:    models.TaskStatusPending,
		Message:   "整片渲染任务已创建...",
		Parameters: models.TaskParameters{
			Render: &models.RenderParams{
				AspectRatio: req.AspectRatio,
				Resolution:  req.Resolution,
			},
		},
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeRenderTask, task.ID); err != nil {
		log.Printf("渲染任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"task_id": task.ID})
}

// 后期合成：已完成分镜 -> 成片
func ConcatProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if project.Phase != models.PhaseRendering {
		c.JSON(http.StatusBadRequest, gin.H{"error": "当前阶段不能合成: " + project.Phase})
		return
	}

	scenes, err := models.GetScenesByProjectID(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取分镜失败: " + err.Error()})
		return
	}
	doneCount := 0
	for _, s := range scenes {
		if s.Status == models.SceneStatusDone {
			doneCount++
		}
	}
	if doneCount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "没有已完成的分镜"})
		return
	}

	task := models.Task{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Type:      models.TaskTypeConcatFilm,
		Status:    models.TaskStatusPending,
		Message:   "后期合成任务已创建...",
	}
	if err := models.CreateTask(&task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(service.TypeConcatTask, task.ID); err != nil {
		log.Printf("合成任务入队失败: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"task_id": task.ID, "scene_count": doneCount})
}

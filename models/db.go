package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"AuraFilm-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	log.Println("数据库连接成功 (Native SQL + GORM)")

	// 自动建表（读取 doc/sql/AuraFilm.sql）
	b, err := os.ReadFile("doc/sql/AuraFilm.sql")
	if err != nil {
		log.Printf("读取 SQL 文件失败（跳过建表）: %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("执行建表语句失败: %v ; sql: %s", err, s)
		}
	}
}

// Project CRUD
func CreateProject(p *FilmProject) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := DB.Exec(
		`INSERT INTO project (id, title, idea, phase, aspect_ratio, resolution, character_ref, scene_count, final_video_url, final_remote, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Idea, p.Phase, p.AspectRatio, p.Resolution, p.CharacterRef, p.SceneCount, p.FinalVideoUrl, p.FinalRemote, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func GetProjectByID(id string) (FilmProject, error) {
	var p FilmProject
	row := DB.QueryRow(`SELECT id, title, idea, phase, aspect_ratio, resolution, character_ref, scene_count, final_video_url, final_remote, created_at, updated_at FROM project WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Title, &p.Idea, &p.Phase, &p.AspectRatio, &p.Resolution, &p.CharacterRef, &p.SceneCount, &p.FinalVideoUrl, &p.FinalRemote, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// UpdateProjectPhase 带单调性检查的阶段推进；非法迁移直接拒绝
func UpdateProjectPhase(id string, phase string) error {
	p, err := GetProjectByID(id)
	if err != nil {
		return err
	}
	if p.Phase == phase {
		return nil
	}
	if !CanAdvanceTo(p.Phase, phase) {
		return fmt.Errorf("非法的阶段迁移: %s -> %s", p.Phase, phase)
	}
	_, err = DB.Exec(`UPDATE project SET phase = ?, updated_at = ? WHERE id = ?`, phase, time.Now(), id)
	return err
}

func SetProjectFinalVideo(id string, url string, remote bool) error {
	_, err := DB.Exec(`UPDATE project SET final_video_url = ?, final_remote = ?, updated_at = ? WHERE id = ?`, url, remote, time.Now(), id)
	return err
}

// DeleteProjectByID 显式重置：项目连同全部分镜状态一起清除
func DeleteProjectByID(id string) error {
	if _, err := DB.Exec(`DELETE FROM scene WHERE project_id = ?`, id); err != nil {
		return err
	}
	_, err := DB.Exec(`DELETE FROM project WHERE id = ?`, id)
	return err
}

// Scene CRUD
func GetScenesByProjectID(projectID string) ([]Scene, error) {
	rows, err := DB.Query(`SELECT id, project_id, scene_number, title, action, video_prompt, audio_description, narration, duration_seconds, status, progress, video_url, video_remote, error, created_at, updated_at FROM scene WHERE project_id = ? ORDER BY scene_number ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Scene
	for rows.Next() {
		var s Scene
		if err := rows.Scan(&s.ID, &s.ProjectId, &s.SceneNumber, &s.Title, &s.Action, &s.VideoPrompt, &s.AudioDescription, &s.Narration, &s.DurationSeconds, &s.Status, &s.Progress, &s.VideoUrl, &s.VideoRemote, &s.Error, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func GetSceneByID(projectID, sceneID string) (Scene, error) {
	var s Scene
	row := DB.QueryRow(`SELECT id, project_id, scene_number, title, action, video_prompt, audio_description, narration, duration_seconds, status, progress, video_url, video_remote, error, created_at, updated_at FROM scene WHERE id = ? AND project_id = ?`, sceneID, projectID)
	if err := row.Scan(&s.ID, &s.ProjectId, &s.SceneNumber, &s.Title, &s.Action, &s.VideoPrompt, &s.AudioDescription, &s.Narration, &s.DurationSeconds, &s.Status, &s.Progress, &s.VideoUrl, &s.VideoRemote, &s.Error, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	return s, nil
}

// Task create helper
func CreateTask(t *Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	params, _ := json.Marshal(t.Parameters)
	result, _ := json.Marshal(t.Result)

	// started_at / finished_at 如果是零值则传 nil
	var startedAtParam interface{}
	if !t.StartedAt.IsZero() {
		startedAtParam = t.StartedAt
	}
	var finishedAtParam interface{}
	if !t.FinishedAt.IsZero() {
		finishedAtParam = t.FinishedAt
	}

	_, err := DB.Exec(`INSERT INTO task (id, project_id, scene_id, type, status, progress, message, parameters, result, error, started_at, finished_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectId, t.SceneId, t.Type, t.Status, t.Progress, t.Message, params, result, t.Error, startedAtParam, finishedAtParam, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func GetTaskByID(id string) (Task, error) {
	var t Task
	row := DB.QueryRow(`SELECT id, project_id, scene_id, type, status, progress, message, parameters, result, error, started_at, finished_at, created_at, updated_at FROM task WHERE id = ?`, id)

	var paramsBytes, resultBytes []byte
	var startedAt, finishedAt, createdAt, updatedAt sql.NullTime
	var sceneIDNull, messageNull, errorNull sql.NullString

	if err := row.Scan(&t.ID, &t.ProjectId, &sceneIDNull, &t.Type, &t.Status, &t.Progress, &messageNull, &paramsBytes, &resultBytes, &errorNull, &startedAt, &finishedAt, &createdAt, &updatedAt); err != nil {
		return t, err
	}

	if sceneIDNull.Valid {
		t.SceneId = sceneIDNull.String
	}
	if messageNull.Valid {
		t.Message = messageNull.String
	}
	if errorNull.Valid {
		t.Error = errorNull.String
	}

	_ = json.Unmarshal(paramsBytes, &t.Parameters)
	_ = json.Unmarshal(resultBytes, &t.Result)

	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = finishedAt.Time
	}
	if createdAt.Valid {
		t.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		t.UpdatedAt = updatedAt.Time
	}
	return t, nil
}

// UpdateTaskStatus 更新任务的状态/进度/消息/结果等（部分字段允许为空）
func UpdateTaskStatus(id string, status string, progress *int, message *string, result *TaskResult, errStr *string, startedAt *time.Time, finishedAt *time.Time) error {
	sets := []string{}
	args := []interface{}{}

	if status != "" {
		sets = append(sets, "status = ?")
		args = append(args, status)
	}
	if progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *progress)
	}
	if message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *message)
	}
	if result != nil {
		b, _ := json.Marshal(result)
		sets = append(sets, "result = ?")
		args = append(args, b)
	}
	if errStr != nil {
		sets = append(sets, "error = ?")
		args = append(args, *errStr)
	}
	if startedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *startedAt)
	}
	if finishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *finishedAt)
	}

	if len(sets) == 0 {
		// 仅更新时间戳
		_, err := DB.Exec(`UPDATE task SET updated_at = ? WHERE id = ?`, time.Now(), id)
		return err
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now())

	query := fmt.Sprintf("UPDATE task SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, id)

	_, err := DB.Exec(query, args...)
	return err
}

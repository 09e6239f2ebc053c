package storyboards

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"toonframe_back/cache"
	"toonframe_back/generation"
	filestore "toonframe_back/storage"
)

// Module 聚合了分镜模块的数据库、图片存储、生成网关与列表缓存依赖。
type Module struct {
	db        *gorm.DB
	images    ImageResolver
	generator SceneGenerator
	cache     *sceneListCache
}

// NewModule 以显式依赖构造分镜模块,供路由注册与其他模块复用。
func NewModule(db *gorm.DB, images ImageResolver, generator SceneGenerator) *Module {
	return &Module{db: db, images: images, generator: generator}
}

// RegisterRoutes 初始化分镜模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Scene{}); err != nil {
		return nil, err
	}

	images, err := filestore.NewImageStorageFromEnv()
	if err != nil {
		return nil, err
	}

	generator, err := generation.NewImageClientFromEnv()
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Printf("storyboards: redis unavailable, list cache disabled: %v", err)
	}

	module := NewModule(db, images, generator)
	module.cache = newSceneListCache(redisClient)

	group := router.Group("/storyboards")
	group.GET("", module.handleListScenes)
	group.POST("", module.handleCreateScenes)
	group.PUT("/:id", module.handleUpdateScene)

	router.POST("/generate-next-scene", module.handleGenerateNextScene)
	router.POST("/create-storyboard", module.handleCreateStoryboard)

	return module, nil
}

// handleListScenes godoc
// @Summary 查询分镜列表
// @Description 返回按创建时间倒序排列的全部分镜,存储不可用时降级为空列表
// @Tags Storyboards
// @Produce json
// @Success 200 {object} map[string]interface{} "分镜列表"
// @Author bizer
// handleListScenes 处理分镜列表查询,读路径容忍存储故障。
func (m *Module) handleListScenes(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := m.cache.get(ctx); err == nil {
		c.JSON(http.StatusOK, gin.H{"storyboards": cached})
		return
	}

	var scenes []Scene
	if err := m.db.WithContext(ctx).Order("created_at desc").Find(&scenes).Error; err != nil {
		log.Printf("storyboards: list scenes failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"storyboards": []Scene{}})
		return
	}
	if scenes == nil {
		scenes = []Scene{}
	}

	m.cache.store(ctx, scenes)

	c.JSON(http.StatusOK, gin.H{"storyboards": scenes})
}

type createSceneRequest struct {
	Scenes      []SceneInput `json:"scenes"`
	ImageURL    string       `json:"imageUrl"`
	Description string       `json:"description"`
}

// handleCreateScenes godoc
// @Summary 保存分镜
// @Description 保存单个分镜或批量保存多个分镜,批量时逐条提交互不回滚
// @Tags Storyboards
// @Accept json
// @Produce json
// @Param request body createSceneRequest true "分镜内容"
// @Success 200 {object} map[string]interface{} "保存结果"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Author bizer
// handleCreateScenes 处理分镜保存请求并落库。
func (m *Module) handleCreateScenes(c *gin.Context) {
	var req createSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()

	if len(req.Scenes) > 0 {
		saved, failures := m.CreateScenesBatch(ctx, req.Scenes)
		response := gin.H{"success": len(failures) == 0, "scenes": saved}
		if len(failures) > 0 {
			response["failures"] = failures
		}
		c.JSON(http.StatusOK, response)
		return
	}

	scene, err := m.CreateScene(ctx, SceneInput{ImageURL: req.ImageURL, Description: req.Description})
	if err != nil {
		c.JSON(sceneErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "scenes": []Scene{*scene}})
}

type updateSceneRequest struct {
	EndFrameURL string `json:"endFrameUrl"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
}

// handleUpdateScene godoc
// @Summary 为分镜补充结束帧
// @Description 直接提交结束帧,或给出提示词由网关生成结束帧;这是分镜唯一的变更操作
// @Tags Storyboards
// @Accept json
// @Produce json
// @Param id path int true "分镜 ID"
// @Param request body updateSceneRequest true "结束帧内容或生成指令"
// @Success 200 {object} map[string]interface{} "更新后的分镜"
// @Failure 404 {object} map[string]string "分镜不存在"
// @Failure 502 {object} map[string]string "生成失败"
// @Author bizer
// handleUpdateScene 处理结束帧写入,网关失败时分镜保持原状。
func (m *Module) handleUpdateScene(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid storyboard id"})
		return
	}

	var req updateSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()

	if strings.TrimSpace(req.EndFrameURL) != "" {
		scene, err := m.SetEndFrame(ctx, id, req.EndFrameURL)
		if err != nil {
			c.JSON(sceneErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "storyboard": scene})
		return
	}

	scene, generatedText, err := m.ExtendWithNextFrame(ctx, id, req.Prompt, req.AspectRatio)
	if err != nil {
		c.JSON(sceneErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "storyboard": scene, "generatedText": generatedText})
}

type nextSceneRequest struct {
	StartFrameURL string `json:"startFrameUrl" binding:"required"`
	Prompt        string `json:"prompt"`
	AspectRatio   string `json:"aspectRatio"`
}

// handleGenerateNextScene 处理无状态的下一场景生成请求。
func (m *Module) handleGenerateNextScene(c *gin.Context) {
	var req nextSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startFrameUrl is required"})
		return
	}

	endFrameURL, generatedText, err := m.GenerateNextFrame(c.Request.Context(), req.StartFrameURL, req.Prompt, req.AspectRatio)
	if err != nil {
		c.JSON(sceneErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"endFrameUrl": endFrameURL, "generatedText": generatedText})
}

type createStoryboardRequest struct {
	Prompt      string `json:"prompt" binding:"required"`
	Characters  []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"characters"`
	AspectRatio string `json:"aspectRatio"`
}

// handleCreateStoryboard 处理整组分镜画面的生成请求。
func (m *Module) handleCreateStoryboard(c *gin.Context) {
	var req createStoryboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	references := make([]string, 0, len(req.Characters))
	for _, character := range req.Characters {
		if trimmed := strings.TrimSpace(character.ImageURL); trimmed != "" {
			references = append(references, trimmed)
		}
	}

	images, description, err := m.GenerateStoryboardFrames(c.Request.Context(), req.Prompt, references, req.AspectRatio)
	if err != nil {
		c.JSON(sceneErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"storyboardImages": images, "sceneDescription": description})
}

// sceneErrorStatus 将分镜操作错误映射为 HTTP 状态码。
func sceneErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrSceneNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyImage):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, filestore.ErrUpload):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

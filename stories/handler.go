package stories

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"toonframe_back/generation"
	"toonframe_back/storyboards"
)

var (
	// ErrStoryNotFound 表示引用的故事 id 不存在。
	ErrStoryNotFound = errors.New("stories: story not found")
	// ErrEmptyText 表示故事正文去除空白后为空。
	ErrEmptyText = errors.New("stories: text is required")
)

// sceneDescriptionLimit 是由故事生成分镜时描述截取的最大字符数。
const sceneDescriptionLimit = 100

// ImageGenerator 是生成网关:提交提示词与参考图,换回一张图片与说明文本。
type ImageGenerator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// Module 聚合了故事模块的数据库、生成网关与分镜模块依赖。
type Module struct {
	db        *gorm.DB
	generator ImageGenerator
	scenes    *storyboards.Module
}

// RegisterRoutes 初始化故事模块并注册所有相关路由。
// 由故事生成的分镜交给 scenes 模块持久化。
func RegisterRoutes(router *gin.Engine, scenes *storyboards.Module) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Story{}); err != nil {
		return nil, err
	}

	generator, err := generation.NewImageClientFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{db: db, generator: generator, scenes: scenes}

	group := router.Group("/stories")
	group.GET("", module.handleListStories)
	group.POST("", module.handleCreateStory)
	group.PUT("/:id", module.handleUpdateStory)

	router.POST("/generate-story-image", module.handleGenerateStoryImage)

	return module, nil
}

// SaveStory 校验正文并持久化新故事,首次保存不写 updatedAt。
func (m *Module) SaveStory(ctx context.Context, text string, elements []StoryElement) (*Story, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyText
	}

	encoded, err := EncodeElements(elements)
	if err != nil {
		return nil, err
	}

	story := Story{Text: text, Elements: encoded}
	if err := m.db.WithContext(ctx).Create(&story).Error; err != nil {
		return nil, fmt.Errorf("stories: create story: %w", err)
	}

	return &story, nil
}

// UpdateStory 整体替换正文与元素列表并写入 updatedAt。
// 元素顺序原样保留,不做去重,也不校验引用的角色是否仍然存在。
func (m *Module) UpdateStory(ctx context.Context, id uint64, text string, elements []StoryElement) (*Story, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyText
	}

	var story Story
	if err := m.db.WithContext(ctx).First(&story, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStoryNotFound
		}
		return nil, fmt.Errorf("stories: load story %d: %w", id, err)
	}

	encoded, err := EncodeElements(elements)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	story.Text = text
	story.Elements = encoded
	story.Updated = &now

	if err := m.db.WithContext(ctx).Model(&Story{}).Where("id = ?", id).Updates(map[string]any{
		"text":       text,
		"elements":   encoded,
		"updated_at": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("stories: update story %d: %w", id, err)
	}

	return &story, nil
}

// GenerateSceneFromStory 以故事正文构造提示词,把 character 元素的图片
// 作为参考图交给网关,成功后委托分镜模块落库。网关失败时不产生任何写入。
func (m *Module) GenerateSceneFromStory(ctx context.Context, text string, elements []StoryElement, aspectRatio string) (*storyboards.Scene, string, error) {
	result, err := m.generator.Generate(ctx, generation.Request{
		Prompt:          generation.StoryImagePrompt(text, aspectRatio),
		ReferenceImages: ReferenceImageURLs(elements),
	})
	if err != nil {
		return nil, "", err
	}

	scene, err := m.scenes.CreateScene(ctx, storyboards.SceneInput{
		ImageURL:    result.ImageData,
		Description: truncateDescription(text, sceneDescriptionLimit),
	})
	if err != nil {
		return nil, "", err
	}

	return scene, result.Text, nil
}

// truncateDescription 按字符截取描述前缀。
func truncateDescription(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}

// handleListStories godoc
// @Summary 查询故事列表
// @Description 返回按创建时间倒序排列的全部故事,存储不可用时降级为空列表
// @Tags Stories
// @Produce json
// @Success 200 {object} map[string]interface{} "故事列表"
// @Author bizer
// handleListStories 处理故事列表查询,读路径容忍存储故障。
func (m *Module) handleListStories(c *gin.Context) {
	var records []Story
	if err := m.db.WithContext(c.Request.Context()).Order("created_at desc").Find(&records).Error; err != nil {
		log.Printf("stories: list stories failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"stories": []storyDTO{}})
		return
	}

	result := make([]storyDTO, 0, len(records))
	for i := range records {
		result = append(result, toDTO(&records[i]))
	}

	c.JSON(http.StatusOK, gin.H{"stories": result})
}

type storyRequest struct {
	Text     string         `json:"text"`
	Elements []StoryElement `json:"elements"`
}

// handleCreateStory 处理故事保存请求并落库。
func (m *Module) handleCreateStory(c *gin.Context) {
	var req storyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	story, err := m.SaveStory(c.Request.Context(), req.Text, req.Elements)
	if err != nil {
		c.JSON(storyErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "story": toDTO(story)})
}

// handleUpdateStory 处理故事编辑,正文与元素整体替换。
func (m *Module) handleUpdateStory(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid story id"})
		return
	}

	var req storyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	story, err := m.UpdateStory(c.Request.Context(), id, req.Text, req.Elements)
	if err != nil {
		c.JSON(storyErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "story": toDTO(story)})
}

type storyImageRequest struct {
	Story       string         `json:"story" binding:"required"`
	Elements    []StoryElement `json:"elements"`
	AspectRatio string         `json:"aspectRatio"`
}

// handleGenerateStoryImage godoc
// @Summary 由故事生成插画
// @Description 以故事正文与角色参考图生成一张插画并保存为分镜
// @Tags Stories
// @Accept json
// @Produce json
// @Param request body storyImageRequest true "故事内容"
// @Success 200 {object} map[string]interface{} "生成结果"
// @Failure 502 {object} map[string]string "生成失败"
// @Author bizer
// handleGenerateStoryImage 处理故事插画生成,成功后保存为分镜。
func (m *Module) handleGenerateStoryImage(c *gin.Context) {
	var req storyImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "story is required"})
		return
	}

	scene, generatedText, err := m.GenerateSceneFromStory(c.Request.Context(), req.Story, req.Elements, req.AspectRatio)
	if err != nil {
		c.JSON(storyErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imageUrl":      scene.ImageURL,
		"generatedText": generatedText,
		"scene":         scene,
	})
}

// storyErrorStatus 将故事操作错误映射为 HTTP 状态码。
func storyErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrStoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package sketches

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"toonframe_back/generation"
	filestore "toonframe_back/storage"
)

// ErrSketchNotFound 表示引用的草图 id 不存在。
var ErrSketchNotFound = errors.New("sketches: sketch not found")

// ImageResolver 将生成结果的内联负载转换为稳定的外部 URL。
type ImageResolver interface {
	ResolveImage(ctx context.Context, value, category, namePrefix string) (string, error)
}

// ImageGenerator 是生成网关:提交提示词与参考图,换回一张图片与说明文本。
type ImageGenerator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// Module 聚合了草图模块的数据库、图片存储与生成网关依赖。
type Module struct {
	db        *gorm.DB
	images    ImageResolver
	generator ImageGenerator
}

// RegisterRoutes 初始化草图模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Sketch{}); err != nil {
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

	module := &Module{db: db, images: images, generator: generator}

	group := router.Group("/sketches")
	group.GET("", module.handleListSketches)
	group.POST("", module.handleCreateSketch)

	router.POST("/generate-image", module.handleGenerateImage)

	return module, nil
}

// handleListSketches 处理草图列表查询,读路径容忍存储故障。
func (m *Module) handleListSketches(c *gin.Context) {
	var records []Sketch
	if err := m.db.WithContext(c.Request.Context()).Order("created_at desc").Find(&records).Error; err != nil {
		log.Printf("sketches: list sketches failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"sketches": []Sketch{}})
		return
	}
	if records == nil {
		records = []Sketch{}
	}

	c.JSON(http.StatusOK, gin.H{"sketches": records})
}

type createSketchRequest struct {
	Name    string `json:"name"`
	DataURL string `json:"dataUrl"`
}

// handleCreateSketch godoc
// @Summary 保存草图
// @Description 保存画布手绘稿,像素数据以 data URL 原样入库
// @Tags Sketches
// @Accept json
// @Produce json
// @Param request body createSketchRequest true "草图内容"
// @Success 200 {object} map[string]interface{} "保存结果"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Author bizer
// handleCreateSketch 处理草图保存请求并落库。
func (m *Module) handleCreateSketch(c *gin.Context) {
	var req createSketchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || strings.TrimSpace(req.DataURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and dataUrl are required"})
		return
	}

	sketch := Sketch{Name: name, DataURL: req.DataURL}
	if err := m.db.WithContext(c.Request.Context()).Create(&sketch).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save sketch", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "sketch": sketch})
}

type generateImageRequest struct {
	SketchID    uint64 `json:"sketchId"`
	DataURL     string `json:"dataUrl"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
}

// handleGenerateImage 以草图为参考生成成品插画,结果解析为外部 URL 后返回。
// 已保存的草图通过 sketchId 引用,未保存的直接提交 dataUrl。
func (m *Module) handleGenerateImage(c *gin.Context) {
	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	ctx := c.Request.Context()

	reference := strings.TrimSpace(req.DataURL)
	if reference == "" && req.SketchID != 0 {
		var sketch Sketch
		if err := m.db.WithContext(ctx).First(&sketch, "id = ?", req.SketchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": ErrSketchNotFound.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sketch", "details": err.Error()})
			return
		}
		reference = sketch.DataURL
	}
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dataUrl or sketchId is required"})
		return
	}

	result, err := m.generator.Generate(ctx, generation.Request{
		Prompt:          generation.SketchImagePrompt(req.Prompt, req.AspectRatio),
		ReferenceImages: []string{reference},
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	imageURL, err := m.images.ResolveImage(ctx, result.ImageData, "generated", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imageUrl": imageURL, "generatedText": result.Text})
}

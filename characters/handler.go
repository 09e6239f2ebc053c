package characters

import (
	"context"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"toonframe_back/generation"
	filestore "toonframe_back/storage"
)

// ErrCharacterNotFound 表示引用的角色 id 不存在。
var ErrCharacterNotFound = errors.New("characters: character not found")

// ImageUploader 负责把上传的图片文件转换为稳定的外部 URL。
type ImageUploader interface {
	UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, category string) (string, error)
	ResolveImage(ctx context.Context, value, category, namePrefix string) (string, error)
}

// ImageGenerator 是生成网关:提交提示词与参考图,换回一张图片与说明文本。
type ImageGenerator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// Module 聚合了角色模块的数据库、图片存储与生成网关依赖。
type Module struct {
	db        *gorm.DB
	images    ImageUploader
	generator ImageGenerator
}

// RegisterRoutes 初始化角色模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Character{}); err != nil {
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

	group := router.Group("/characters")
	group.GET("", module.handleListCharacters)
	group.POST("", module.handleCreateCharacter)

	router.POST("/generate-character-sheet", module.handleGenerateCharacterSheet)

	return module, nil
}

// handleListCharacters godoc
// @Summary 查询角色列表
// @Description 返回按创建时间倒序排列的全部角色,存储不可用时降级为空列表
// @Tags Characters
// @Produce json
// @Success 200 {array} characterDTO "角色列表"
// @Author bizer
// handleListCharacters 处理角色列表查询,读路径容忍存储故障。
func (m *Module) handleListCharacters(c *gin.Context) {
	var records []Character
	if err := m.db.WithContext(c.Request.Context()).Order("created_at desc").Find(&records).Error; err != nil {
		log.Printf("characters: list characters failed: %v", err)
		c.JSON(http.StatusOK, []characterDTO{})
		return
	}

	result := make([]characterDTO, 0, len(records))
	for i := range records {
		result = append(result, toDTO(&records[i]))
	}

	c.JSON(http.StatusOK, result)
}

// handleCreateCharacter godoc
// @Summary 注册角色
// @Description 以 multipart 表单提交角色名称与立绘文件,立绘先上传再落库
// @Tags Characters
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "角色名称"
// @Param image formData file true "立绘文件"
// @Success 200 {object} characterDTO "注册成功的角色"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 500 {object} map[string]string "服务器错误"
// @Author bizer
// handleCreateCharacter 处理角色注册,立绘必须先解析为 URL 才能入库。
func (m *Module) handleCreateCharacter(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	fileHeader, err := c.FormFile("image")
	if name == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and image are required"})
		return
	}

	ctx := c.Request.Context()

	imageURL, err := m.images.UploadFile(ctx, fileHeader, "characters")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload character image", "details": err.Error()})
		return
	}

	sheets, err := encodeSheets(nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create character"})
		return
	}

	character := Character{Name: name, ImageURL: imageURL, CharacterSheets: sheets}
	if err := m.db.WithContext(ctx).Create(&character).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create character", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toDTO(&character))
}

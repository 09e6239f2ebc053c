package generation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Module 持有生成网关客户端并负责占位图路由。
type Module struct {
	client *ImageClient
}

// RegisterRoutes 注册生成相关的通用路由。
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	client, err := NewImageClientFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{client: client}

	router.GET("/placeholder-image", module.handlePlaceholderImage)

	return module, nil
}

// handlePlaceholderImage 返回 1x1 透明像素，供前端在生成结果缺失时展示。
func (m *Module) handlePlaceholderImage(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=31536000")
	c.Data(http.StatusOK, "image/png", PlaceholderPNG())
}

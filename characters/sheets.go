package characters

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"toonframe_back/generation"
	filestore "toonframe_back/storage"
)

type characterSheetRequest struct {
	CharacterID uint64 `json:"characterId" binding:"required"`
	AspectRatio string `json:"aspectRatio"`
}

// GenerateCharacterSheets 为角色生成固定的五个设定集视角并整体追加。
// 所有视角都生成成功后才写库:中途任何一次网关失败都不会留下部分追加。
func (m *Module) GenerateCharacterSheets(ctx context.Context, characterID uint64, aspectRatio string) ([]string, error) {
	var character Character
	if err := m.db.WithContext(ctx).First(&character, "id = ?", characterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("characters: load character %d: %w", characterID, err)
	}

	generated := make([]string, 0, len(generation.SheetPoses))
	for _, pose := range generation.SheetPoses {
		result, err := m.generator.Generate(ctx, generation.Request{
			Prompt:          generation.CharacterSheetPrompt(character.Name, pose, aspectRatio),
			ReferenceImages: []string{character.ImageURL},
		})
		if err != nil {
			return nil, err
		}

		resolved, err := m.images.ResolveImage(ctx, result.ImageData, "characters", "")
		if err != nil {
			return nil, err
		}
		generated = append(generated, resolved)
	}

	sheets := append(decodeSheets(character.CharacterSheets), generated...)
	encoded, err := encodeSheets(sheets)
	if err != nil {
		return nil, fmt.Errorf("characters: encode character sheets: %w", err)
	}

	if err := m.db.WithContext(ctx).Model(&Character{}).Where("id = ?", characterID).
		Update("character_sheets", encoded).Error; err != nil {
		return nil, fmt.Errorf("characters: update character %d sheets: %w", characterID, err)
	}

	return generated, nil
}

// handleGenerateCharacterSheet godoc
// @Summary 生成角色设定集
// @Description 以角色立绘为参考生成五个视角的设定集图片并追加到角色
// @Tags Characters
// @Accept json
// @Produce json
// @Param request body characterSheetRequest true "角色与画幅"
// @Success 200 {object} map[string]interface{} "设定集图片地址"
// @Failure 404 {object} map[string]string "角色不存在"
// @Failure 502 {object} map[string]string "生成失败"
// @Author bizer
// handleGenerateCharacterSheet 处理设定集生成请求。
func (m *Module) handleGenerateCharacterSheet(c *gin.Context) {
	var req characterSheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "characterId is required"})
		return
	}

	sheets, err := m.GenerateCharacterSheets(c.Request.Context(), req.CharacterID, req.AspectRatio)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrCharacterNotFound):
			status = http.StatusNotFound
		case errors.Is(err, generation.ErrGenerationFailed):
			status = http.StatusBadGateway
		case errors.Is(err, filestore.ErrUpload):
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"characterSheetImages": sheets})
}

package storyboards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"toonframe_back/generation"
)

const (
	imageCategory = "storyboards"
	// endFramePrefix 让结束帧落在 storyboards/end_{ts}_{suffix}.png 下,
	// 与起始帧区分开。
	endFramePrefix = "end_"
)

var (
	// ErrSceneNotFound 表示引用的分镜 id 不存在,检查发生在任何副作用之前。
	ErrSceneNotFound = errors.New("storyboards: scene not found")
	// ErrEmptyImage 表示解析之后画面地址仍为空。
	ErrEmptyImage = errors.New("storyboards: image is required")
)

// ImageResolver 将内联图片负载转换为稳定的外部 URL,已解析的 URL 原样返回,
// namePrefix 参与对象命名。
type ImageResolver interface {
	ResolveImage(ctx context.Context, value, category, namePrefix string) (string, error)
}

// SceneGenerator 是生成网关:提交提示词与参考图,换回一张图片与说明文本。
type SceneGenerator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// SceneInput 是创建分镜的入参,画面可以是 URL 或内联 base64 负载。
type SceneInput struct {
	ImageURL    string `json:"imageUrl"`
	Description string `json:"description"`
}

// BatchFailure 记录批量创建中单个条目的失败,成功条目不受影响。
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// CreateScene 解析画面地址并持久化一个没有结束帧的新分镜。
func (m *Module) CreateScene(ctx context.Context, input SceneInput) (*Scene, error) {
	imageURL, err := m.images.ResolveImage(ctx, input.ImageURL, imageCategory, "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(imageURL) == "" {
		return nil, ErrEmptyImage
	}

	scene := Scene{
		ImageURL:    imageURL,
		Description: strings.TrimSpace(input.Description),
	}
	if err := m.db.WithContext(ctx).Create(&scene).Error; err != nil {
		return nil, fmt.Errorf("storyboards: create scene: %w", err)
	}

	m.cache.invalidate(ctx)

	return &scene, nil
}

// CreateScenesBatch 顺序处理每个条目,逐条提交。单个条目的失败不会回滚
// 已持久化的条目,也不会阻止后续条目继续。
func (m *Module) CreateScenesBatch(ctx context.Context, inputs []SceneInput) ([]Scene, []BatchFailure) {
	saved := make([]Scene, 0, len(inputs))
	var failures []BatchFailure

	for i, input := range inputs {
		scene, err := m.CreateScene(ctx, input)
		if err != nil {
			failures = append(failures, BatchFailure{Index: i, Error: err.Error()})
			continue
		}
		saved = append(saved, *scene)
	}

	return saved, failures
}

// fetchScene 按 id 加载分镜,不存在时返回 ErrSceneNotFound。
func (m *Module) fetchScene(ctx context.Context, id uint64) (*Scene, error) {
	var scene Scene
	if err := m.db.WithContext(ctx).First(&scene, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("storyboards: load scene %d: %w", id, err)
	}
	return &scene, nil
}

// SetEndFrame 解析并写入结束帧。这是分镜唯一会发生的变更,起始帧与描述保持不变。
func (m *Module) SetEndFrame(ctx context.Context, id uint64, endFrameURL string) (*Scene, error) {
	scene, err := m.fetchScene(ctx, id)
	if err != nil {
		return nil, err
	}

	resolved, err := m.images.ResolveImage(ctx, endFrameURL, imageCategory, endFramePrefix)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resolved) == "" {
		return nil, ErrEmptyImage
	}

	if err := m.db.WithContext(ctx).Model(&Scene{}).Where("id = ?", id).
		Update("end_frame_url", resolved).Error; err != nil {
		return nil, fmt.Errorf("storyboards: update scene %d: %w", id, err)
	}

	scene.EndFrameURL = &resolved
	m.cache.invalidate(ctx)

	return scene, nil
}

// ExtendWithNextFrame 以当前画面为起始帧向网关请求结束帧并持久化。
// 网关失败时分镜保持原状,调用方需显式重试。
func (m *Module) ExtendWithNextFrame(ctx context.Context, id uint64, prompt, aspectRatio string) (*Scene, string, error) {
	scene, err := m.fetchScene(ctx, id)
	if err != nil {
		return nil, "", err
	}

	result, err := m.generator.Generate(ctx, generation.Request{
		Prompt:          generation.NextScenePrompt(prompt, aspectRatio),
		ReferenceImages: []string{scene.ImageURL},
	})
	if err != nil {
		return nil, "", err
	}

	updated, err := m.SetEndFrame(ctx, id, result.ImageData)
	if err != nil {
		return nil, "", err
	}

	return updated, result.Text, nil
}

// GenerateNextFrame 是无状态的下一场景生成:不触碰任何已存分镜,
// 仅返回解析后的结束帧地址与生成文本。
func (m *Module) GenerateNextFrame(ctx context.Context, startFrameURL, prompt, aspectRatio string) (string, string, error) {
	result, err := m.generator.Generate(ctx, generation.Request{
		Prompt:          generation.NextScenePrompt(prompt, aspectRatio),
		ReferenceImages: []string{startFrameURL},
	})
	if err != nil {
		return "", "", err
	}

	endFrameURL, err := m.images.ResolveImage(ctx, result.ImageData, imageCategory, endFramePrefix)
	if err != nil {
		return "", "", err
	}

	return endFrameURL, result.Text, nil
}

// GenerateStoryboardFrames 依据提示词生成一组分镜画面(固定两帧),
// 返回解析后的图片地址与场景描述。画面在此处不落库,由前端决定保存哪些。
func (m *Module) GenerateStoryboardFrames(ctx context.Context, prompt string, references []string, aspectRatio string) ([]string, string, error) {
	const frameCount = 2

	images := make([]string, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		result, err := m.generator.Generate(ctx, generation.Request{
			Prompt:          generation.StoryboardPrompt(prompt, aspectRatio),
			ReferenceImages: references,
		})
		if err != nil {
			return nil, "", err
		}
		resolved, err := m.images.ResolveImage(ctx, result.ImageData, imageCategory, "")
		if err != nil {
			return nil, "", err
		}
		images = append(images, resolved)
	}

	description := "Storyboard scene created from user prompt: " + strings.TrimSpace(prompt)
	return images, description, nil
}

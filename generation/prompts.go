package generation

import (
	"fmt"
	"strings"
)

// AspectRatios 是生成接口接受的画幅比例闭集，未识别的比例回退到 1:1。
const (
	AspectRatioSquare    = "1:1"
	AspectRatioLandscape = "16:9"
	AspectRatioPortrait  = "9:16"
)

// ratioDirectives 按画幅比例给出必须附加到提示词末尾的构图指令。
var ratioDirectives = map[string]string{
	AspectRatioSquare:    "IMPORTANT: Generate a SQUARE image with 1:1 aspect ratio. The image must be exactly square shaped, with equal width and height. Do not create vertical or horizontal rectangles.",
	AspectRatioLandscape: "IMPORTANT: Generate a WIDE HORIZONTAL image with 16:9 aspect ratio. The image must be wider than it is tall, like a movie screen or landscape photo.",
	AspectRatioPortrait:  "IMPORTANT: Generate a TALL VERTICAL image with 9:16 aspect ratio. The image must be taller than it is wide, like a smartphone screen or portrait photo.",
}

// defaultNextSceneInstruction 是未提供自定义提示词时的默认下一场景指令。
const defaultNextSceneInstruction = "Create a natural next scene that logically follows from the start frame. Show what happens next in this story sequence."

// SheetPoses 列出角色设定集固定生成的五个视角。
var SheetPoses = []string{
	"front view, standing, neutral expression",
	"side profile view, standing",
	"back view, standing",
	"close-up face, smiling expression",
	"dynamic action pose",
}

// DirectiveForAspectRatio 返回画幅比例对应的构图指令，未知比例使用 1:1 的指令。
func DirectiveForAspectRatio(ratio string) string {
	if directive, ok := ratioDirectives[strings.TrimSpace(ratio)]; ok {
		return directive
	}
	return ratioDirectives[AspectRatioSquare]
}

// NextScenePrompt 构造由起始帧推导结束帧的完整提示词。
// 调用方提示词优先于默认指令，二者不会拼接。
func NextScenePrompt(customPrompt, ratio string) string {
	instruction := defaultNextSceneInstruction
	if trimmed := strings.TrimSpace(customPrompt); trimmed != "" {
		instruction = "Create the next scene with this direction: " + trimmed
	}

	return fmt.Sprintf(`You are given a START FRAME image. Create an END FRAME that shows the next logical scene in the sequence.

START FRAME: This is the current scene (provided as image)

TASK: %s

REQUIREMENTS:
- Maintain visual consistency with the start frame (same art style, character designs, color palette)
- Show clear progression from start to end frame
- Keep the same characters and setting unless specifically instructed otherwise
- Create a smooth visual transition that could be animated between these two frames

Style: High-quality anime art, detailed characters, vibrant colors, dynamic composition that matches the start frame.

%s`, instruction, DirectiveForAspectRatio(ratio))
}

// StoryImagePrompt 构造以故事文本为内容的插画提示词。
func StoryImagePrompt(story, ratio string) string {
	return fmt.Sprintf(`Create an anime-style illustration for this story:

Story: %s

Style: High-quality anime art, detailed characters, vibrant colors, dynamic composition.
Characters should match the provided reference images exactly - same appearance, clothing, and features.

The scene should capture the emotion and action described in the story text.

%s`, strings.TrimSpace(story), DirectiveForAspectRatio(ratio))
}

// CharacterSheetPrompt 构造角色设定集单个视角的提示词。
func CharacterSheetPrompt(name, pose, ratio string) string {
	return fmt.Sprintf(`Create a character sheet image of the character %q: %s.

The character must match the provided reference image exactly - same appearance, clothing, hairstyle and features.
Clean white background, full body visible, consistent anime art style.

%s`, strings.TrimSpace(name), pose, DirectiveForAspectRatio(ratio))
}

// StoryboardPrompt 构造分镜生成请求的提示词。
func StoryboardPrompt(prompt, ratio string) string {
	return fmt.Sprintf(`Create a storyboard frame for this scene:

Scene: %s

Style: High-quality anime art, detailed characters, vibrant colors, cinematic composition.
Characters should match the provided reference images exactly when given.

%s`, strings.TrimSpace(prompt), DirectiveForAspectRatio(ratio))
}

// SketchImagePrompt 构造以手绘草图为参考的成图提示词。
func SketchImagePrompt(prompt, ratio string) string {
	direction := strings.TrimSpace(prompt)
	if direction == "" {
		direction = "Render the provided sketch as a finished illustration, keeping its composition and subject."
	}

	return fmt.Sprintf(`Turn the provided rough sketch into a finished illustration.

DIRECTION: %s

Keep the layout and proportions of the sketch, replace the line work with a polished anime art style, vibrant colors and clean shading.

%s`, direction, DirectiveForAspectRatio(ratio))
}

package stories

import (
	"time"

	"gorm.io/datatypes"
)

// Story 表示一段可引用角色的短篇叙事文本。
// Elements 以插入顺序保存文本与角色片段,角色片段是值快照而非活引用。
type Story struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	Text      string         `gorm:"type:text;not null" json:"text"`
	Elements  datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	// Updated 不使用 gorm 的 UpdatedAt 约定:首次保存时必须保持为空,
	// 只有显式编辑才会写入。
	Updated *time.Time `gorm:"column:updated_at" json:"-"`
}

// TableName 指定 Story 模型对应的数据库表名。
func (Story) TableName() string {
	return "stories"
}

// storyDTO 是对外返回的故事结构,updatedAt 在首次保存前不出现。
type storyDTO struct {
	ID        uint64         `json:"id"`
	Text      string         `json:"text"`
	Elements  []StoryElement `json:"elements"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// toDTO 将存储模型转换为响应结构,元素解码失败时退化为空列表。
func toDTO(story *Story) storyDTO {
	elements, err := DecodeElements(story.Elements)
	if err != nil {
		elements = []StoryElement{}
	}
	return storyDTO{
		ID:        story.ID,
		Text:      story.Text,
		Elements:  elements,
		CreatedAt: story.CreatedAt,
		UpdatedAt: story.Updated,
	}
}

package storyboards

import "time"

// Scene 表示分镜中的一帧画面,可选地带有生成的结束帧。
// 状态机只有两步:创建后 EndFrameURL 为空,扩展一次后写入且不再变化。
type Scene struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	ImageURL    string    `gorm:"type:text;not null" json:"imageUrl"`
	EndFrameURL *string   `gorm:"type:text" json:"endFrameUrl,omitempty"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName 指定 Scene 模型对应的数据库表名。
func (Scene) TableName() string {
	return "storyboards"
}

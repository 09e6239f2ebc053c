package sketches

import "time"

// Sketch 表示画布手绘稿。与角色和分镜不同,草图不会被其他实体引用,
// 因此允许以内联 data URL 形式直接入库。
type Sketch struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	DataURL   string    `gorm:"type:text;not null" json:"dataUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 Sketch 模型对应的数据库表名。
func (Sketch) TableName() string {
	return "sketches"
}

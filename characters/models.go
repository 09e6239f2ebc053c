package characters

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Character 表示注册的角色:一张基准立绘加按需生成的设定集。
// ImageURL 创建后不可变;CharacterSheets 只能由设定集生成操作追加,
// 不会重排或单独删除。
type Character struct {
	ID              uint64         `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"size:255;not null" json:"name"`
	ImageURL        string         `gorm:"type:text" json:"imageUrl"`
	CharacterSheets datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// TableName 指定 Character 模型对应的数据库表名。
func (Character) TableName() string {
	return "characters"
}

// characterDTO 是对外返回的角色结构,设定集始终以数组形式出现。
type characterDTO struct {
	ID              uint64    `json:"id"`
	Name            string    `json:"name"`
	ImageURL        string    `json:"imageUrl"`
	CharacterSheets []string  `json:"characterSheets"`
	CreatedAt       time.Time `json:"createdAt"`
}

// toDTO 将存储模型转换为响应结构,设定集解码失败时退化为空列表。
func toDTO(character *Character) characterDTO {
	sheets := decodeSheets(character.CharacterSheets)
	return characterDTO{
		ID:              character.ID,
		Name:            character.Name,
		ImageURL:        character.ImageURL,
		CharacterSheets: sheets,
		CreatedAt:       character.CreatedAt,
	}
}

// decodeSheets 从存储的 JSON 数组还原设定集地址列表。
func decodeSheets(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var sheets []string
	if err := json.Unmarshal(raw, &sheets); err != nil || sheets == nil {
		return []string{}
	}
	return sheets
}

// encodeSheets 将设定集地址列表编码为存储用的 JSON 数组。
func encodeSheets(sheets []string) (datatypes.JSON, error) {
	if sheets == nil {
		sheets = []string{}
	}
	data, err := json.Marshal(sheets)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

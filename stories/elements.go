package stories

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// 故事元素的标签,标签驱动序列化:text 元素只有内容,character 元素
// 额外携带角色快照。
const (
	ElementTypeText      = "text"
	ElementTypeCharacter = "character"
)

// CharacterRef 是插入时刻的角色值快照。角色后续被改名或换图时,
// 已保存的故事元素不会跟随变化。
type CharacterRef struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// StoryElement 是 text | character 两种元素的带标签联合。
type StoryElement struct {
	Type      string        `json:"type"`
	Content   string        `json:"content"`
	Character *CharacterRef `json:"character,omitempty"`
}

// AppendCharacterReference 在元素列表末尾追加一个角色快照元素,
// 并返回调用方应追加到文本缓冲区的字面标记 [name]。
func AppendCharacterReference(elements []StoryElement, ref CharacterRef) ([]StoryElement, string) {
	element := StoryElement{
		Type:    ElementTypeCharacter,
		Content: ref.Name,
		Character: &CharacterRef{
			ID:       ref.ID,
			Name:     ref.Name,
			ImageURL: ref.ImageURL,
		},
	}
	return append(elements, element), "[" + ref.Name + "]"
}

// EncodeElements 将元素序列编码为存储用的 JSON 数组,保持插入顺序。
func EncodeElements(elements []StoryElement) (datatypes.JSON, error) {
	if elements == nil {
		elements = []StoryElement{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("stories: encode elements: %w", err)
	}
	return datatypes.JSON(data), nil
}

// DecodeElements 从存储的 JSON 数组还原元素序列。
func DecodeElements(raw datatypes.JSON) ([]StoryElement, error) {
	if len(raw) == 0 {
		return []StoryElement{}, nil
	}
	var elements []StoryElement
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("stories: decode elements: %w", err)
	}
	if elements == nil {
		elements = []StoryElement{}
	}
	return elements, nil
}

// ReferenceImageURLs 收集 character 元素携带的参考图地址,保持出现顺序。
func ReferenceImageURLs(elements []StoryElement) []string {
	var urls []string
	for _, element := range elements {
		if element.Type != ElementTypeCharacter || element.Character == nil {
			continue
		}
		if element.Character.ImageURL != "" {
			urls = append(urls, element.Character.ImageURL)
		}
	}
	return urls
}

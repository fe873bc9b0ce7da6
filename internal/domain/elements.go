package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

// ErrMalformedElements 表示 elements 无法解析为有序集合。
var ErrMalformedElements = errors.New("elements is not a JSON array")

// ParseElements 校验客户端发来的 elements 并返回可直接存储的 JSON。
// 接受 JSON 数组，或内容为 JSON 数组的字符串 (部分客户端会先序列化一次)。
func ParseElements(raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrMalformedElements
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedElements, err)
		}
		trimmed = bytes.TrimSpace([]byte(text))
	}

	list, err := decodeElementArray(trimmed)
	if err != nil {
		return nil, err
	}
	// 重新编码，去掉多余空白并保证存储的是规范数组
	normalized, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedElements, err)
	}
	return datatypes.JSON(normalized), nil
}

func decodeElementArray(data []byte) ([]json.RawMessage, error) {
	if len(data) == 0 || data[0] != '[' {
		return nil, ErrMalformedElements
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedElements, err)
	}
	if list == nil {
		list = []json.RawMessage{}
	}
	return list, nil
}

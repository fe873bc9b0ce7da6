package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID 兼容数字和数字字符串两种写法的标识符。
// 非法值 (负数、小数、非数字字符串、null) 一律视为缺省 (0)，交给校验或调用方处理。
type ID uint

func (id *ID) UnmarshalJSON(data []byte) error {
	*id = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	text := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}
	if v, err := strconv.ParseUint(text, 10, 64); err == nil {
		*id = ID(v)
	}
	return nil
}

// Valid 正整数才是有效标识
func (id ID) Valid() bool { return id > 0 }

// Key 房间 key，允许客户端用数字表示
type Key string

func (k *Key) UnmarshalJSON(data []byte) error {
	*k = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = Key(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*k = Key(n.String())
	return nil
}

func (k Key) String() string { return string(k) }

// Timestamp 接受 RFC3339 字符串或毫秒时间戳，缺省或非法时为零值
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
		}
		return nil
	}
	if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
	}
	return nil
}

// OrNow 为零值时返回当前时间
func (t Timestamp) OrNow() time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t.Time
}

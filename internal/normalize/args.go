package normalize

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// parseArgs 宽松地把 args 转成列表
//   - 列表原样使用
//   - 标量包装为单元素列表
//   - 字符串先尝试按 JSON 解析，失败或得到非容器时退回为包含原始字符串的单元素列表
//
// 历史调用方既提交过 JSON 也提交过普通标量，所以这里不做严格校验
func parseArgs(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	case string:
		return parseArgsString(t), nil
	case map[string]any:
		return []any{t}, nil
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return []any{t}, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	default:
		return nil, invalid("args of type %T cannot be parsed", v)
	}
}

func parseArgsString(s string) []any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return []any{}
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return []any{s}
	}
	switch d := decoded.(type) {
	case []any:
		return d
	case map[string]any:
		return []any{d}
	default:
		return []any{s}
	}
}

// parseKwargs kwargs 必须是字典；字符串形式必须以 '{' 开头
func parseKwargs(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if trimmed[0] != '{' {
			return nil, invalid("kwargs must be a dict starting with '{'")
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
			return nil, invalid("kwargs cannot be parsed: %v", err)
		}
		return m, nil
	default:
		return nil, invalid("kwargs must be a dict, got %T", v)
	}
}

// uuidGroups UUID 各段的十六进制位数，段之间的连字符各自可省略
var uuidGroups = [...]int{8, 4, 4, 4, 12}

// CheckUUID 校验 UUIDv4 格式（连字符可省略，版本位为 4，变体位为 8/9/a/b）
func CheckUUID(s string) error {
	var b strings.Builder
	rest := s
	for i, n := range uuidGroups {
		if len(rest) < n {
			return invalid("invalid UUID: %s", s)
		}
		b.WriteString(rest[:n])
		rest = rest[n:]
		if i < len(uuidGroups)-1 {
			rest = strings.TrimPrefix(rest, "-")
		}
	}
	if rest != "" {
		return invalid("invalid UUID: %s", s)
	}
	u, err := uuid.Parse(b.String())
	if err != nil || u.Version() != 4 || u.Variant() != uuid.RFC4122 {
		return invalid("invalid UUID: %s", s)
	}
	return nil
}

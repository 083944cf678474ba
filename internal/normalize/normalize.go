// Package normalize 把调用方提交的多种请求体形态统一解析为有序的 TaskDescriptor 列表
// 支持三种等价形态:
//  1. 顶层直接给出 endpoint/function/args/kwargs，可附带 endpoint_2/function_2/args_2/kwargs_2
//  2. tasks 字段为任务对象列表（也接受单个任务对象）
//  3. tasks 字段为上述内容的 JSON 字符串
//
// 形态歧义只在这一层处理，之后的组件只看到规范化结果
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// Options 规范化选项
type Options struct {
	CheckUUID bool // 是否要求 endpoint/function 为 UUIDv4
}

// FromRequest 解析请求体，无副作用
func FromRequest(body map[string]any, opts Options) ([]domain.TaskDescriptor, error) {
	if body == nil {
		return nil, invalid("request body is empty")
	}
	rawTasks, hasTasks := body["tasks"]
	if hasTasks && isEmpty(rawTasks) {
		hasTasks = false
	}

	if !hasTasks {
		return fromImplicit(body, opts)
	}

	// tasks 与顶层 endpoint/function 互斥
	if !isEmpty(body["endpoint"]) || !isEmpty(body["function"]) {
		return nil, invalid("tasks and endpoint/function are exclusive")
	}

	items, err := taskItems(rawTasks)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TaskDescriptor, 0, len(items))
	for i, item := range items {
		kw := item["kwargs"]
		if isEmpty(kw) {
			// payload 是 kwargs 的历史别名
			kw = item["payload"]
		}
		td, err := newDescriptor(item["endpoint"], item["function"], item["args"], kw, opts)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out = append(out, td)
	}
	return out, nil
}

// fromImplicit 顶层单任务，外加可选的 _2 后缀第二个任务
func fromImplicit(body map[string]any, opts Options) ([]domain.TaskDescriptor, error) {
	first, err := newDescriptor(body["endpoint"], body["function"], body["args"], body["kwargs"], opts)
	if err != nil {
		return nil, err
	}
	out := []domain.TaskDescriptor{first}

	if isEmpty(body["endpoint_2"]) || isEmpty(body["function_2"]) {
		return out, nil
	}
	second, err := newDescriptor(body["endpoint_2"], body["function_2"], body["args_2"], body["kwargs_2"], opts)
	if err != nil {
		return nil, fmt.Errorf("task 1: %w", err)
	}
	return append(out, second), nil
}

// taskItems 把 tasks 字段展开为任务对象列表
func taskItems(raw any) ([]map[string]any, error) {
	if s, ok := raw.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &decoded); err != nil {
			return nil, invalid("tasks is not valid JSON: %v", err)
		}
		raw = decoded
	}

	switch v := raw.(type) {
	case map[string]any:
		if _, ok := v["endpoint"]; ok {
			if _, ok := v["function"]; ok {
				return []map[string]any{v}, nil
			}
		}
		return nil, invalid("tasks object must contain endpoint and function")
	case []any:
		if len(v) == 0 {
			return nil, invalid("at least one task must be provided")
		}
		items := make([]map[string]any, 0, len(v))
		for i, it := range v {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, invalid("task %d must be an object, got %T", i, it)
			}
			items = append(items, m)
		}
		return items, nil
	case []map[string]any:
		if len(v) == 0 {
			return nil, invalid("at least one task must be provided")
		}
		return v, nil
	default:
		return nil, invalid("tasks must be a list of task objects, got %T", raw)
	}
}

func newDescriptor(endpoint, function, args, kwargs any, opts Options) (domain.TaskDescriptor, error) {
	ep, err := idString("endpoint", endpoint)
	if err != nil {
		return domain.TaskDescriptor{}, err
	}
	fn, err := idString("function", function)
	if err != nil {
		return domain.TaskDescriptor{}, err
	}
	if opts.CheckUUID {
		if err := CheckUUID(ep); err != nil {
			return domain.TaskDescriptor{}, err
		}
		if err := CheckUUID(fn); err != nil {
			return domain.TaskDescriptor{}, err
		}
	}

	a, err := parseArgs(args)
	if err != nil {
		return domain.TaskDescriptor{}, err
	}
	kw, err := parseKwargs(kwargs)
	if err != nil {
		return domain.TaskDescriptor{}, err
	}
	return domain.TaskDescriptor{EndpointID: ep, FunctionID: fn, Args: a, Kwargs: kw}, nil
}

func idString(field string, v any) (string, error) {
	if v == nil {
		return "", invalid("%s must be provided", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("%s must be a string, got %T", field, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalid("%s must be provided", field)
	}
	return s, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, a...))
}

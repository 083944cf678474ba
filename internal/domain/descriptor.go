package domain

// TaskDescriptor 规范化后的一次远程调用描述，提交后不可变
type TaskDescriptor struct {
	EndpointID string         `json:"endpoint"` // 执行端点 ID
	FunctionID string         `json:"function"` // 函数 ID
	Args       []any          `json:"args"`     // 位置参数
	Kwargs     map[string]any `json:"kwargs"`   // 关键字参数
}

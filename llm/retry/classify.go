package retry

import (
	"github.com/BaSui01/tokengate/types"
)

// Classify 将传输层错误映射为统一错误码。
// 与 types.GetErrorCode 使用同一张映射表；无法识别的错误归为 ErrUpstreamError（终止）。
func Classify(err error) types.ErrorCode {
	if err == nil {
		return ""
	}
	if code := types.GetErrorCode(err); code != "" {
		return code
	}
	return types.ErrUpstreamError
}

// IsTransient 错误是否属于可重试类别
func IsTransient(err error) bool {
	return Classify(err).Kind() == types.KindTransient
}

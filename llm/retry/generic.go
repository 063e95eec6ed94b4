package retry

import "context"

// DoTyped 是 Coordinator.Do 的泛型版本，返回最后一次成功调用的结果。
//
// Usage:
//
//	resp, err := retry.DoTyped(c, ctx, func() (*dispatch.Response, error) {
//	    return transport.Call(ctx, payload)
//	})
func DoTyped[T any](c *Coordinator, ctx context.Context, fn func() (T, error)) (T, error) {
	var result T
	err := c.run(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

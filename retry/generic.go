package retry

import "context"

// DoWithResultTyped 与 Retryer.DoWithResult 相同，返回值为 fn 的具体类型
//
//	db, err := retry.DoWithResultTyped(ctx, r, func(ctx context.Context) (*gorm.DB, error) {
//		return gorm.Open(dialector, cfg)
//	})
func DoWithResultTyped[T any](ctx context.Context, r Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}

package pipeline

import (
	"context"
	"time"
)

// Middleware 描述融合周期内的一个处理步骤。
type Middleware interface {
	Meta() MiddlewareMeta
	Handle(ctx context.Context, tc *TickContext) error
}

// MiddlewareMeta 提供调度所需元信息。同 Stage 的中间件并行执行，
// Stage 之间严格串行；Critical 失败终止整条管线。
type MiddlewareMeta struct {
	Name     string
	Stage    int
	Critical bool
	Timeout  time.Duration
}

// StageError 封装中间件的失败信息。
type StageError struct {
	Middleware string
	Stage      int
	Critical   bool
	Err        error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Middleware
	}
	return e.Middleware + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Func 把普通函数适配成 Middleware。
type Func struct {
	MetaInfo MiddlewareMeta
	Fn       func(ctx context.Context, tc *TickContext) error
}

func (f Func) Meta() MiddlewareMeta { return f.MetaInfo }

func (f Func) Handle(ctx context.Context, tc *TickContext) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, tc)
}

package dsui

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownOnSignal 阻塞直到收到信号（默认 SIGINT / SIGTERM）或 ctx 结束，然后 Shutdown
//
// 用法:
//
//	go rt.ShutdownOnSignal(ctx)
func (r *Runtime) ShutdownOnSignal(ctx context.Context, sigs ...os.Signal) error {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigCtx, stop := signal.NotifyContext(ctx, sigs...)
	defer stop()

	<-sigCtx.Done()
	r.log.Info("shutdown requested", "cause", context.Cause(sigCtx))
	// 关闭过程不受 ctx 取消影响，时限由 ShutdownTimeout 控制
	return r.Shutdown(context.WithoutCancel(ctx))
}

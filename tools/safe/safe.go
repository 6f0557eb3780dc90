package safe

import (
	"PulseChat/logger"
)

// Go 启动一个带 panic 兜底的 goroutine。
// 后台循环里的 panic 记日志后吞掉，不殃及整个进程。
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("goroutine panic recovered: %v", r)
			}
		}()
		f()
	}()
}

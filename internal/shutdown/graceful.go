package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopHTTP      = 10 // 停止接受新命令
	OrderStopWorkers   = 20 // 停止预言机消费与定时发布
	OrderFlushOutbox   = 30 // 最后一次投递发件箱
	OrderCloseOutput   = 40 // 关闭Kafka生产者
	OrderCloseSources  = 50 // 关闭数据库连接
	OrderCloseStore    = 60 // 关闭状态存储
	DefaultStopTimeout = 30 * time.Second
)

// Hook 停机处理函数
type Hook struct {
	Name  string
	Order int
	Func  func(ctx context.Context) error
}

// GracefulShutdown 优雅停机管理器
//
// 收到信号或手动触发后取消主上下文，再按 Order 依次执行已注册的处理函数。
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration
	hooks   []Hook
	signals chan os.Signal
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	err     error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
		signals: make(chan os.Signal, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Register 注册停机处理函数
func (gs *GracefulShutdown) Register(name string, order int, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.hooks = append(gs.hooks, Hook{Name: name, Order: order, Func: fn})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Listen 监听 SIGINT 与 SIGTERM
func (gs *GracefulShutdown) Listen() {
	signal.Notify(gs.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-gs.signals:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
	}()
}

// Context 主上下文，停机开始时被取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Shutdown 触发停机，重复调用只执行一次
func (gs *GracefulShutdown) Shutdown() error {
	gs.once.Do(func() {
		signal.Stop(gs.signals)
		gs.cancel()
		gs.err = gs.run()
		close(gs.done)
	})
	<-gs.done
	return gs.err
}

// Done 停机完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Hooks 按执行顺序返回已注册的处理函数名
func (gs *GracefulShutdown) Hooks() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	hooks := gs.sorted()
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return names
}

func (gs *GracefulShutdown) sorted() []Hook {
	hooks := append([]Hook(nil), gs.hooks...)
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Order < hooks[j].Order
	})
	return hooks
}

func (gs *GracefulShutdown) run() error {
	gs.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.mu.Lock()
	hooks := gs.sorted()
	gs.mu.Unlock()

	var errs []error
	for _, hook := range hooks {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", hook.Name)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := hook.Func(ctx); err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", hook.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", hook.Name, time.Since(start))
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	} else {
		gs.logger.Info("优雅停机流程完成")
	}
	return errors.Join(errs...)
}

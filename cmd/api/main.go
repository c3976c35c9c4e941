package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"amlgate/internal/api"
	"amlgate/internal/config"
	"amlgate/internal/contract"
	"amlgate/internal/dispatch"
	"amlgate/internal/gateway"
	"amlgate/internal/logging"
	"amlgate/internal/metrics"
	"amlgate/internal/oracle"
	"amlgate/internal/output"
	"amlgate/internal/retry"
	"amlgate/internal/shutdown"
	"amlgate/internal/store"
	"amlgate/internal/validation"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口，0 表示使用配置文件")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if *port > 0 {
		cfg.API.Port = *port
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		logrus.Fatalf("创建日志器失败: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(cfg, logger); err != nil {
		logger.Errorf("服务异常退出: %v", err)
		os.Exit(1)
	}
	logger.Info("服务器已关闭")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	gs := shutdown.NewGracefulShutdown(shutdown.DefaultStopTimeout, logger)

	st, err := store.NewBoltStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	gs.Register("关闭状态存储", shutdown.OrderCloseStore, func(context.Context) error {
		return st.Close()
	})

	out, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return errors.Join(err, gs.Shutdown())
	}
	gs.Register("关闭输出器", shutdown.OrderCloseOutput, func(context.Context) error {
		return out.Close()
	})

	m := metrics.New()
	validator := validation.NewValidator(logger, cfg.Validation.AddressFormat)
	gw := gateway.New(st, contract.New(validator, logger), logger, gateway.WithMetrics(m))

	dispatcher := dispatch.NewDispatcher(st, out, logger,
		dispatch.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatch.WithRetrier(retry.NewRetrier(retry.DefaultRetryConfig.WithMaxAttempts(cfg.Dispatch.MaxAttempts), logger)),
		dispatch.WithMetrics(m),
	)
	gw.AddListener(dispatcher)
	gs.Register("投递剩余发件箱", shutdown.OrderFlushOutbox, func(ctx context.Context) error {
		n, err := dispatcher.Flush(ctx)
		logger.Infof("停机前投递了 %d 条发件箱记录", n)
		return err
	})

	server := api.NewServer(gw, m, logger, cfg.API.Port)
	server.SetDispatcher(dispatcher)
	gs.Register("停止HTTP服务", shutdown.OrderStopHTTP, server.Stop)

	runners := []func(ctx context.Context) error{
		func(context.Context) error { return server.Start() },
		func(ctx context.Context) error { return dispatcher.Run(ctx, cfg.Dispatch.DispatchInterval()) },
	}

	if cfg.Oracle.EnableWorker {
		runner, err := prepareWorker(cfg, gw, gs, logger)
		if err != nil {
			return errors.Join(err, gs.Shutdown())
		}
		runners = append(runners, runner)
	}
	if every := cfg.Oracle.PublishEvery(); every > 0 {
		runner, err := preparePublisher(gs.Context(), cfg, gw, gs, every, logger)
		if err != nil {
			return errors.Join(err, gs.Shutdown())
		}
		runners = append(runners, runner)
	}

	g, ctx := errgroup.WithContext(gs.Context())
	for _, runner := range runners {
		runner := runner
		g.Go(func() error { return runner(ctx) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	gs.Register("等待后台任务", shutdown.OrderStopWorkers, func(ctx context.Context) error {
		select {
		case runErr = <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	gs.Listen()
	logger.Infof("amlgate 已启动，端口: %d，输出: %s", cfg.API.Port, cfg.Output.Format)

	<-ctx.Done()
	if err := gs.Shutdown(); err != nil {
		logger.Warnf("停机过程中出现错误: %v", err)
	}
	return runErr
}

// prepareWorker 创建审计事件主题上的预言机工作者
func prepareWorker(cfg *config.Config, gw *gateway.Gateway, gs *shutdown.GracefulShutdown, logger *logrus.Logger) (func(context.Context) error, error) {
	evaluator, err := oracle.NewEvaluator(cfg.Oracle.MaxAmount, cfg.Oracle.MaxAmountDenom)
	if err != nil {
		return nil, err
	}

	group, err := oracle.NewConsumerGroup(cfg.Output.Kafka.Brokers, cfg.Oracle.ConsumerGroup)
	if err != nil {
		return nil, err
	}
	gs.Register("关闭消费组", shutdown.OrderStopWorkers-1, func(context.Context) error {
		return group.Close()
	})

	worker := oracle.NewWorker(evaluator, gw, cfg.Oracle.Sender, logger)
	topics := []string{cfg.Output.Kafka.Topics[output.TopicEvents]}
	return func(ctx context.Context) error {
		return worker.Run(ctx, group, topics)
	}, nil
}

// preparePublisher 创建定时发布器，从 Postgres 读取被标记钱包并提交签名数据集
func preparePublisher(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, gs *shutdown.GracefulShutdown, every time.Duration, logger *logrus.Logger) (func(context.Context) error, error) {
	signer, err := oracle.NewSigner(cfg.Oracle.PrivateKey)
	if err != nil {
		return nil, err
	}

	source, err := oracle.NewPostgresSource(ctx, cfg.Oracle.SourceDSN, logger)
	if err != nil {
		return nil, err
	}
	gs.Register("关闭数据源", shutdown.OrderCloseSources, func(context.Context) error {
		return source.Close()
	})

	publisher := oracle.NewPublisher(source, signer, gw, cfg.Oracle.Sender, logger)
	return func(ctx context.Context) error {
		return publisher.Run(ctx, every)
	}, nil
}

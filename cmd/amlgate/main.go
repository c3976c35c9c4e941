package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"amlgate/internal/config"
	"amlgate/internal/contract"
	"amlgate/internal/gateway"
	"amlgate/internal/logging"
	"amlgate/internal/store"
	"amlgate/internal/validation"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
	dryRun     bool
	sender     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "amlgate",
		Short:        "AML 合规结算网关管理工具",
		Long:         `管理合规结算网关的状态：实例化、轮换预言机密钥、提交转账与裁决，以及预言机数据集工具`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "试运行模式，在现有状态的内存副本上执行，不写入数据库")
	rootCmd.PersistentFlags().StringVar(&sender, "sender", "", "调用者身份")

	rootCmd.AddCommand(
		newInstantiateCmd(),
		newRotateKeyCmd(),
		newTransferCmd(),
		newVerdictCmd(),
		newStatusCmd(),
		newOracleCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// env 一次命令执行所需的组件
type env struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   store.Store
	gateway *gateway.Gateway
}

// setup 加载配置并打开状态存储，调用方负责 close
func setup() (*env, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := newCLILogger(cfg)
	if err != nil {
		return nil, err
	}

	var st store.Store
	if dryRun {
		logger.Info("试运行模式，状态不会持久化")
		st, err = store.SnapshotMemoryStore(cfg.Store.Path, logger)
		if err != nil {
			return nil, err
		}
	} else {
		st, err = store.NewBoltStore(cfg.Store.Path, logger)
		if err != nil {
			return nil, err
		}
	}

	validator := validation.NewValidator(logger, cfg.Validation.AddressFormat)
	gw := gateway.New(st, contract.New(validator, logger), logger)

	return &env{cfg: cfg, logger: logger, store: st, gateway: gw}, nil
}

// newCLILogger 命令行日志输出到标准错误，避免混入JSON结果
func newCLILogger(cfg *config.Config) (*logrus.Logger, error) {
	logCfg := *cfg.Logging
	logCfg.Output = "stderr"
	logCfg.Format = "text"
	if verbose {
		logCfg.Level = "debug"
	}
	return logging.NewLogger(&logCfg)
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warnf("关闭状态存储失败: %v", err)
	}
}

func requireSender() error {
	if sender == "" {
		return fmt.Errorf("必须通过 --sender 指定调用者身份")
	}
	return nil
}

// printJSON 把结果以缩进JSON打印到标准输出
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// withEnv 包装需要状态存储的子命令
func withEnv(fn func(ctx context.Context, e *env, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd.Context(), e, args)
	}
}

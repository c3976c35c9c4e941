package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"amlgate/internal/config"
	"amlgate/internal/oracle"

	"github.com/spf13/cobra"
)

var (
	privateKey  string
	datasetFile string
)

func newOracleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "预言机数据集工具",
	}
	cmd.PersistentFlags().StringVar(&privateKey, "key", "", "预言机私钥（十六进制），默认读取 oracle.private_key")

	cmd.AddCommand(newKeygenCmd(), newSignCmd(), newPublishCmd(), newImportOFACCmd())
	return cmd
}

// loadSigner 命令行参数优先，其次是配置文件
func loadSigner(cfg *config.Config) (*oracle.Signer, error) {
	key := privateKey
	if key == "" && cfg != nil {
		key = cfg.Oracle.PrivateKey
	}
	if key == "" {
		return nil, fmt.Errorf("缺少预言机私钥，请使用 --key 或配置 oracle.private_key")
	}
	return oracle.NewSigner(key)
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "生成新的 secp256k1 预言机密钥对",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := oracle.GenerateSigner()
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"private_key":   signer.PrivateKeyHex(),
				"pubkey_hex":    hex.EncodeToString(signer.PublicKey()),
				"pubkey_base64": base64.StdEncoding.EncodeToString(signer.PublicKey()),
				"key_type":      "secp256k1",
			})
		},
	}
}

func newSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "对数据集文件签名并输出可提交的消息体",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if privateKey == "" {
				loaded, err := config.LoadConfig(configFile)
				if err != nil {
					return fmt.Errorf("加载配置失败: %w", err)
				}
				cfg = loaded
			}

			signer, err := loadSigner(cfg)
			if err != nil {
				return err
			}
			entries, err := oracle.LoadDatasetFile(datasetFile)
			if err != nil {
				return err
			}
			sig, err := signer.Sign(entries)
			if err != nil {
				return err
			}

			return printJSON(map[string]interface{}{
				"entries":   entries,
				"signature": base64.StdEncoding.EncodeToString(sig),
			})
		},
	}

	cmd.Flags().StringVar(&datasetFile, "file", "", "数据集JSON文件")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "读取被标记钱包（Postgres 或文件），签名后提交到本地状态",
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			signer, err := loadSigner(e.cfg)
			if err != nil {
				return err
			}

			oracleSender := sender
			if oracleSender == "" {
				oracleSender = e.cfg.Oracle.Sender
			}

			var source oracle.Source
			if datasetFile != "" {
				source = oracle.FileSource{Path: datasetFile}
			} else {
				if e.cfg.Oracle.SourceDSN == "" {
					return fmt.Errorf("需要 --file 或配置 oracle.source_dsn")
				}
				pg, err := oracle.NewPostgresSource(ctx, e.cfg.Oracle.SourceDSN, e.logger)
				if err != nil {
					return err
				}
				defer pg.Close()
				source = pg
			}

			n, err := oracle.NewPublisher(source, signer, e.gateway, oracleSender, e.logger).Publish(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"published": n})
		}),
	}

	cmd.Flags().StringVar(&datasetFile, "file", "", "数据集JSON文件，留空则读取 oracle.source_dsn")
	return cmd
}

func newImportOFACCmd() *cobra.Command {
	var (
		sdnFile string
		assets  []string
		risk    uint64
	)

	cmd := &cobra.Command{
		Use:   "import-ofac",
		Short: "把 OFAC SDN 名单中的数字货币地址写入 flagged_wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			logger, err := newCLILogger(cfg)
			if err != nil {
				return err
			}

			var reader io.Reader
			if sdnFile != "" {
				f, err := os.Open(sdnFile)
				if err != nil {
					return err
				}
				defer f.Close()
				reader = f
			} else {
				logger.Infof("下载 SDN 名单: %s", oracle.SDNAdvancedURL)
				data, err := oracle.FetchSDN(ctx, nil, oracle.SDNAdvancedURL)
				if err != nil {
					return err
				}
				reader = bytes.NewReader(data)
			}

			if dryRun {
				addresses, err := oracle.ParseSDNAdvanced(reader, assets)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"addresses": addresses, "total": len(addresses)})
			}

			if cfg.Oracle.SourceDSN == "" {
				return fmt.Errorf("需要配置 oracle.source_dsn")
			}
			pg, err := oracle.NewPostgresSource(ctx, cfg.Oracle.SourceDSN, logger)
			if err != nil {
				return err
			}
			defer pg.Close()

			n, err := oracle.NewSanctionImporter(pg, logger).Import(ctx, reader, assets, risk)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"imported": n})
		},
	}

	cmd.Flags().StringVar(&sdnFile, "sdn", "", "本地 sdn_advanced.xml，留空则从 OFAC 下载")
	cmd.Flags().StringSliceVar(&assets, "asset", []string{"XBT"}, "要导入的资产代码，可重复，可选: "+strings.Join(oracle.SanctionAssets, ","))
	cmd.Flags().Uint64Var(&risk, "risk-score", oracle.SanctionedRisk, "写入的风险分")
	return cmd
}

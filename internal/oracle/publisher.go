package oracle

import (
	"context"
	"strings"
	"time"

	"amlgate/internal/contract"
	"amlgate/internal/retry"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// DatasetSubmitter 提交签名数据集的入口，由网关实现
type DatasetSubmitter interface {
	SubmitOracleDataset(ctx context.Context, sender string, msg contract.SubmitOracleDatasetMsg) (*models.Response, error)
}

// Publisher 读取数据源、签名并提交数据集
type Publisher struct {
	source    Source
	signer    *Signer
	submitter DatasetSubmitter
	sender    string
	retrier   *retry.Retrier
	logger    *logrus.Logger
}

// NewPublisher 创建数据集发布器
func NewPublisher(source Source, signer *Signer, submitter DatasetSubmitter, sender string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		source:    source,
		signer:    signer,
		submitter: submitter,
		sender:    sender,
		retrier:   retry.NewRetrier(retry.SourceRetryConfig, logger),
		logger:    logger,
	}
}

// Publish 发布一次数据集，返回提交的条目数
func (p *Publisher) Publish(ctx context.Context) (int, error) {
	var entries []models.ComplianceEntry
	err := p.retrier.Execute(ctx, "fetch_flagged_wallets", func() error {
		var err error
		entries, err = p.source.FlaggedWallets(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	entries = p.dropBlankWallets(entries)

	signature, err := p.signer.Sign(entries)
	if err != nil {
		return 0, err
	}

	if _, err := p.submitter.SubmitOracleDataset(ctx, p.sender, contract.SubmitOracleDatasetMsg{
		Entries:   entries,
		Signature: signature,
	}); err != nil {
		return 0, err
	}

	p.logger.WithField("entries", len(entries)).Info("预言机数据集已发布")
	return len(entries), nil
}

// dropBlankWallets 剔除钱包为空的行，合约会整体拒绝含空钱包的数据集
func (p *Publisher) dropBlankWallets(entries []models.ComplianceEntry) []models.ComplianceEntry {
	kept := make([]models.ComplianceEntry, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Wallet) == "" {
			p.logger.WithField("reason", entry.Reason).Warn("跳过钱包为空的数据源记录")
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// Run 立即发布一次，然后按间隔重复，直到 ctx 取消
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	p.logger.Infof("数据集发布器已启动，间隔: %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Publish(ctx); err != nil && ctx.Err() == nil {
			p.logger.WithError(err).Error("发布数据集失败")
		}

		select {
		case <-ctx.Done():
			p.logger.Info("数据集发布器已停止")
			return nil
		case <-ticker.C:
		}
	}
}

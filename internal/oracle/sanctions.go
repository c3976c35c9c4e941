package oracle

import (
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	apperrors "amlgate/internal/errors"
	"amlgate/internal/retry"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// SDNAdvancedURL OFAC 发布的 SDN 高级格式名单
	SDNAdvancedURL = "https://www.treasury.gov/ofac/downloads/sanctions/1.0/sdn_advanced.xml"

	// SanctionedReason 制裁名单导入的登记原因
	SanctionedReason = "OFAC Sanctioned Wallet"

	// SanctionedRisk 制裁地址的默认风险分
	SanctionedRisk = 100

	digitalCurrencyPrefix = "Digital Currency Address - "
)

// SanctionAssets 名单中出现的数字货币资产代码
var SanctionAssets = []string{
	"XBT", "ETH", "XMR", "LTC", "ZEC", "DASH", "BTG", "ETC",
	"BSV", "BCH", "XVG", "USDT", "XRP", "ARB", "BSC", "USDC", "TRX",
}

// UpsertFlaggedWalletSQL 已有记录只在新风险分更高时覆盖
const UpsertFlaggedWalletSQL = `INSERT INTO flagged_wallets (wallet_id, reason, risk_score)
VALUES ($1, $2, $3)
ON CONFLICT (wallet_id) DO UPDATE
SET risk_score = GREATEST(flagged_wallets.risk_score, EXCLUDED.risk_score),
    reason = EXCLUDED.reason
WHERE flagged_wallets.risk_score IS NULL OR EXCLUDED.risk_score > flagged_wallets.risk_score`

// SanctionedAddress 名单中的一个制裁地址
type SanctionedAddress struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

// ParseSDNAdvanced 从 SDN 高级格式 XML 中提取指定资产的地址，结果按资产和地址排序去重
//
// assets 为空时提取全部数字货币资产。
func ParseSDNAdvanced(r io.Reader, assets []string) ([]SanctionedAddress, error) {
	wanted := make(map[string]bool, len(assets))
	for _, asset := range assets {
		wanted[strings.ToUpper(strings.TrimSpace(asset))] = true
	}

	featureAssets := make(map[string]string)   // FeatureType ID -> 资产
	featureValues := make(map[string][]string) // FeatureTypeID -> 地址

	decoder := xml.NewDecoder(r)
	var (
		inFeatureType  string
		currentFeature string
		text           strings.Builder
	)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.ErrSerializationFailed.WithDetail("SDN 名单解析失败").WithCause(err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "FeatureType":
				inFeatureType = attr(t, "ID")
				text.Reset()
			case "Feature":
				currentFeature = attr(t, "FeatureTypeID")
			case "VersionDetail":
				text.Reset()
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			switch t.Name.Local {
			case "FeatureType":
				if name := strings.TrimSpace(text.String()); strings.HasPrefix(name, digitalCurrencyPrefix) && inFeatureType != "" {
					featureAssets[inFeatureType] = strings.TrimPrefix(name, digitalCurrencyPrefix)
				}
				inFeatureType = ""
			case "Feature":
				currentFeature = ""
			case "VersionDetail":
				if value := strings.TrimSpace(text.String()); currentFeature != "" && value != "" {
					featureValues[currentFeature] = append(featureValues[currentFeature], value)
				}
			}
		}
	}

	seen := make(map[SanctionedAddress]bool)
	addresses := make([]SanctionedAddress, 0)
	for id, asset := range featureAssets {
		if len(wanted) > 0 && !wanted[asset] {
			continue
		}
		for _, value := range featureValues[id] {
			addr := SanctionedAddress{Asset: asset, Address: value}
			if !seen[addr] {
				seen[addr] = true
				addresses = append(addresses, addr)
			}
		}
	}

	sort.Slice(addresses, func(i, j int) bool {
		if addresses[i].Asset != addresses[j].Asset {
			return addresses[i].Asset < addresses[j].Asset
		}
		return addresses[i].Address < addresses[j].Address
	})
	return addresses, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// SanctionEntries 把制裁地址转换为登记条目
func SanctionEntries(addresses []SanctionedAddress, risk uint64) []models.ComplianceEntry {
	entries := make([]models.ComplianceEntry, 0, len(addresses))
	for _, addr := range addresses {
		entries = append(entries, models.ComplianceEntry{
			Wallet:    addr.Address,
			Reason:    SanctionedReason,
			RiskScore: models.Uint64Ptr(risk),
		})
	}
	return entries
}

// FetchSDN 下载最新的 SDN 高级格式名单
func FetchSDN(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载 SDN 名单失败: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// sqlExecer 单条语句执行，*sql.Tx 与 *sql.DB 均满足
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// upsertFlaggedWallets 逐条写入，钱包为空的条目跳过
func upsertFlaggedWallets(ctx context.Context, exec sqlExecer, entries []models.ComplianceEntry) (int, error) {
	written := 0
	for _, entry := range entries {
		wallet := strings.TrimSpace(entry.Wallet)
		if wallet == "" {
			continue
		}

		var risk sql.NullInt64
		if entry.RiskScore != nil {
			risk = sql.NullInt64{Int64: int64(*entry.RiskScore), Valid: true}
		}
		if _, err := exec.ExecContext(ctx, UpsertFlaggedWalletSQL, wallet, strings.TrimSpace(entry.Reason), risk); err != nil {
			return written, apperrors.ErrDatabaseQueryFailed.WithDetail("写入被标记钱包 %s 失败", wallet).WithCause(err)
		}
		written++
	}
	return written, nil
}

// UpsertFlaggedWallets 在单个事务内写入被标记钱包，失败时整体回滚
func (s *PostgresSource) UpsertFlaggedWallets(ctx context.Context, entries []models.ComplianceEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.ErrDatabaseQueryFailed.WithDetail("开启事务失败").WithCause(err)
	}

	n, err := upsertFlaggedWallets(ctx, tx, entries)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.ErrDatabaseQueryFailed.WithDetail("提交事务失败").WithCause(err)
	}

	s.logger.WithField("entries", n).Info("被标记钱包已写入")
	return n, nil
}

// FlaggedWalletWriter 被标记钱包的写入端
type FlaggedWalletWriter interface {
	UpsertFlaggedWallets(ctx context.Context, entries []models.ComplianceEntry) (int, error)
}

// SanctionImporter 把 SDN 名单导入 flagged_wallets
type SanctionImporter struct {
	writer  FlaggedWalletWriter
	retrier *retry.Retrier
	logger  *logrus.Logger
}

// NewSanctionImporter 创建制裁名单导入器
func NewSanctionImporter(writer FlaggedWalletWriter, logger *logrus.Logger) *SanctionImporter {
	return &SanctionImporter{
		writer:  writer,
		retrier: retry.NewRetrier(retry.SourceRetryConfig, logger),
		logger:  logger,
	}
}

// Import 解析名单并写入，返回写入的地址数
func (i *SanctionImporter) Import(ctx context.Context, r io.Reader, assets []string, risk uint64) (int, error) {
	addresses, err := ParseSDNAdvanced(r, assets)
	if err != nil {
		return 0, err
	}

	perAsset := make(map[string]int)
	for _, addr := range addresses {
		perAsset[addr.Asset]++
	}
	for asset, n := range perAsset {
		i.logger.Infof("资产 %s 共有 %d 个制裁地址", asset, n)
	}

	entries := SanctionEntries(addresses, risk)
	var written int
	err = i.retrier.Execute(ctx, "upsert_flagged_wallets", func() error {
		var err error
		written, err = i.writer.UpsertFlaggedWallets(ctx, entries)
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

package oracle

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// FlaggedWalletsQuery 读取被标记钱包的查询
const FlaggedWalletsQuery = `SELECT wallet_id, reason, risk_score FROM flagged_wallets ORDER BY wallet_id`

// Source 合规数据集来源
type Source interface {
	FlaggedWallets(ctx context.Context) ([]models.ComplianceEntry, error)
}

// PostgresSource 从Postgres的 flagged_wallets 表读取数据集
type PostgresSource struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresSource 连接数据库并测试连接
func NewPostgresSource(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.ErrDatabaseQueryFailed.WithDetail("连接数据库失败").WithCause(err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.ErrDatabaseQueryFailed.WithDetail("数据库连接测试失败").WithCause(err)
	}

	return NewPostgresSourceWithDB(db, logger), nil
}

// NewPostgresSourceWithDB 使用已有连接
func NewPostgresSourceWithDB(db *sql.DB, logger *logrus.Logger) *PostgresSource {
	return &PostgresSource{db: db, logger: logger}
}

// FlaggedWallets 读取全部被标记钱包，NULL 原因视为空串，NULL 风险分视为缺省
func (s *PostgresSource) FlaggedWallets(ctx context.Context) ([]models.ComplianceEntry, error) {
	rows, err := s.db.QueryContext(ctx, FlaggedWalletsQuery)
	if err != nil {
		return nil, apperrors.ErrDatabaseQueryFailed.WithCause(err)
	}
	defer rows.Close()

	entries := make([]models.ComplianceEntry, 0)
	for rows.Next() {
		var (
			wallet string
			reason sql.NullString
			risk   sql.NullInt64
		)
		if err := rows.Scan(&wallet, &reason, &risk); err != nil {
			return nil, apperrors.ErrDatabaseQueryFailed.WithDetail("解析查询结果失败").WithCause(err)
		}
		entries = append(entries, toEntry(wallet, reason, risk))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ErrDatabaseQueryFailed.WithCause(err)
	}

	s.logger.WithField("entries", len(entries)).Debug("已读取被标记钱包")
	return entries, nil
}

func toEntry(wallet string, reason sql.NullString, risk sql.NullInt64) models.ComplianceEntry {
	entry := models.ComplianceEntry{Wallet: wallet}
	if reason.Valid {
		entry.Reason = reason.String
	}
	if risk.Valid && risk.Int64 >= 0 {
		entry.RiskScore = models.Uint64Ptr(uint64(risk.Int64))
	}
	return entry
}

// Close 关闭数据库连接
func (s *PostgresSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FileSource 从JSON文件读取数据集，文件内容为条目数组
type FileSource struct {
	Path string
}

// FlaggedWallets 读取文件中的条目
func (s FileSource) FlaggedWallets(ctx context.Context) ([]models.ComplianceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadDatasetFile(s.Path)
}

// LoadDatasetFile 读取数据集JSON文件
func LoadDatasetFile(path string) ([]models.ComplianceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []models.ComplianceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperrors.ErrSerializationFailed.WithDetail("数据集文件格式错误: %s", path).WithCause(err)
	}
	return entries, nil
}

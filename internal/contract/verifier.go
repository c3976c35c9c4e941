package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// DatasetPayload 数据集的规范编码：按调用方顺序的条目列表JSON
func DatasetPayload(entries []models.ComplianceEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.ComplianceEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, apperrors.ErrSerializationFailed.WithCause(err)
	}
	return payload, nil
}

// Digest 计算载荷的SHA-256摘要
func Digest(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

// PayloadHash 摘要的十六进制表示，用于事件属性
func PayloadHash(payload []byte) string {
	return hex.EncodeToString(Digest(payload))
}

// Verifier 预言机签名验证器，不修改任何状态
type Verifier struct {
	logger *logrus.Logger
}

// NewVerifier 创建签名验证器
func NewVerifier(logger *logrus.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify 用登记的公钥和算法验证载荷签名
func (v *Verifier) Verify(key models.OracleKey, payload, signature []byte) bool {
	keyType, err := NormalizeKeyType(key.KeyType)
	if err != nil {
		v.logger.Warnf("登记的密钥类型无效: %q", key.KeyType)
		return false
	}

	digest := Digest(payload)

	switch keyType {
	case KeyTypeSecp256k1:
		return verifySecp256k1(key.PubKey, digest, signature)
	case KeyTypeEd25519:
		// ed25519 验证尚未支持，始终失败
		v.logger.WithField("key_type", keyType).Debug("不支持的签名算法")
		return false
	default:
		return false
	}
}

// verifySecp256k1 接受33或65字节公钥，64字节R||S签名；65字节签名去掉恢复位
func verifySecp256k1(pubkey, digest, signature []byte) bool {
	if len(pubkey) != 33 && len(pubkey) != 65 {
		return false
	}
	switch len(signature) {
	case 64:
	case 65:
		signature = signature[:64]
	default:
		return false
	}
	return crypto.VerifySignature(pubkey, digest, signature)
}

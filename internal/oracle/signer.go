package oracle

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"amlgate/internal/contract"
	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer 预言机数据集签名器（secp256k1）
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner 从十六进制私钥创建签名器，允许 0x 前缀
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, apperrors.ErrConfigInvalid.WithDetail("预言机私钥无效").WithCause(err)
	}
	return &Signer{key: key}, nil
}

// GenerateSigner 生成新的密钥对
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Sign 对数据集的规范JSON编码签名，返回64字节 R||S
func (s *Signer) Sign(entries []models.ComplianceEntry) ([]byte, error) {
	payload, err := contract.DatasetPayload(entries)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(contract.Digest(payload), s.key)
	if err != nil {
		return nil, err
	}
	return sig[:64], nil
}

// PublicKey 压缩格式公钥（33字节）
func (s *Signer) PublicKey() []byte {
	return crypto.CompressPubkey(&s.key.PublicKey)
}

// PrivateKeyHex 十六进制私钥，仅供 keygen 输出
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.key))
}

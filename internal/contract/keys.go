package contract

import (
	"strings"

	apperrors "amlgate/internal/errors"
)

// KeyType 预言机公钥算法
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "secp256k1"
	KeyTypeEd25519   KeyType = "ed25519"
)

var keyTypeAliases = map[string]KeyType{
	"secp256k1": KeyTypeSecp256k1,
	"k256":      KeyTypeSecp256k1,
	"ecdsa":     KeyTypeSecp256k1,
	"ed25519":   KeyTypeEd25519,
	"ed":        KeyTypeEd25519,
}

// NormalizeKeyType 把算法别名归一化为规范标签，大小写不敏感
func NormalizeKeyType(keyType string) (KeyType, error) {
	normalized, ok := keyTypeAliases[strings.ToLower(strings.TrimSpace(keyType))]
	if !ok {
		return "", apperrors.ErrInvalidKeyType.WithDetail("%q", keyType)
	}
	return normalized, nil
}

// String 返回规范标签
func (k KeyType) String() string {
	return string(k)
}

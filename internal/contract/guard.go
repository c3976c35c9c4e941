package contract

import (
	apperrors "amlgate/internal/errors"
	"amlgate/internal/store"
	"amlgate/pkg/models"
)

// requireAdmin 仅管理员可修改密钥登记，必须在任何写入之前调用
func requireAdmin(state store.State, caller string) (string, error) {
	admin, ok, err := state.Admin()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.ErrNotInitialized
	}
	if caller != admin {
		return "", apperrors.ErrUnauthorized.WithContext("caller", caller)
	}
	return admin, nil
}

// requireValidSignature 数据集必须由登记的预言机密钥签名
func requireValidSignature(verifier *Verifier, key *models.OracleKey, payload, signature []byte) error {
	if key == nil {
		return apperrors.ErrNotInitialized
	}
	if !verifier.Verify(*key, payload, signature) {
		return apperrors.ErrSignatureInvalid.WithContext("key_type", key.KeyType)
	}
	return nil
}

package validation

import (
	"fmt"
	"regexp"
	"strings"

	"amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// 地址格式
const (
	AddressFormatHex   = "hex"
	AddressFormatPlain = "plain"
)

var (
	denomRegex        = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9/:._-]{2,127}$`)
	plainAddressRegex = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)
)

// Validator 请求参数验证器
type Validator struct {
	logger        *logrus.Logger
	addressFormat string
	rules         map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// NewValidator 创建验证器，addressFormat 为 hex 或 plain
func NewValidator(logger *logrus.Logger, addressFormat string) *Validator {
	if addressFormat == "" {
		addressFormat = AddressFormatHex
	}

	v := &Validator{
		logger:        logger,
		addressFormat: addressFormat,
		rules:         make(map[string]ValidationRule),
	}

	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(NewAddressValidationRule(v.addressFormat))
	v.AddRule(NewCoinValidationRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateRecipient 校验收款地址
func (v *Validator) ValidateRecipient(recipient string) error {
	if err := v.rules["address"].Validate(recipient); err != nil {
		return errors.ErrInvalidRecipient.WithDetail("%s", recipient).WithCause(err)
	}
	return nil
}

// ValidateAmount 校验转账金额
func (v *Validator) ValidateAmount(amount models.Coin) error {
	if err := v.rules["coin"].Validate(amount); err != nil {
		return errors.ErrInvalidAmount.WithDetail("%s", amount.String()).WithCause(err)
	}
	return nil
}

// isValidHexAddress 验证0x前缀的以太坊地址
func isValidHexAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct {
	format string
}

func NewAddressValidationRule(format string) *AddressValidationRule {
	return &AddressValidationRule{format: format}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "收款地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	switch r.format {
	case AddressFormatPlain:
		if !plainAddressRegex.MatchString(addr) {
			return fmt.Errorf("地址格式无效")
		}
	default:
		if !isValidHexAddress(addr) {
			return fmt.Errorf("不是有效的十六进制地址")
		}
	}
	return nil
}

// CoinValidationRule 金额验证规则
type CoinValidationRule struct{}

func NewCoinValidationRule() *CoinValidationRule {
	return &CoinValidationRule{}
}

func (r *CoinValidationRule) Name() string {
	return "coin"
}

func (r *CoinValidationRule) Description() string {
	return "资产金额验证规则"
}

func (r *CoinValidationRule) Validate(data interface{}) error {
	coin, ok := data.(models.Coin)
	if !ok {
		return fmt.Errorf("数据类型不是金额")
	}

	if !denomRegex.MatchString(coin.Denom) {
		return fmt.Errorf("面额格式无效: %q", coin.Denom)
	}
	if !coin.IsPositive() {
		return fmt.Errorf("金额必须大于0")
	}
	if coin.Amount.Cmp(models.MaxAmount) > 0 {
		return fmt.Errorf("金额超出上限")
	}
	return nil
}

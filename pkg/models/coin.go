package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// MaxAmount 金额上限 (2^128-1)
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Coin 资产数量（面额 + 非负数量）
type Coin struct {
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// NewCoin 创建资产数量
func NewCoin(denom string, amount int64) Coin {
	return Coin{Denom: denom, Amount: big.NewInt(amount)}
}

// AmountString 返回十进制金额字符串
func (c Coin) AmountString() string {
	if c.Amount == nil {
		return "0"
	}
	return c.Amount.String()
}

// IsPositive 金额是否大于零
func (c Coin) IsPositive() bool {
	return c.Amount != nil && c.Amount.Sign() > 0
}

// String 返回 "500ustake" 形式
func (c Coin) String() string {
	return c.AmountString() + c.Denom
}

type coinJSON struct {
	Denom  string          `json:"denom"`
	Amount json.RawMessage `json:"amount"`
}

// MarshalJSON 金额按十进制字符串编码
func (c Coin) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	}{
		Denom:  c.Denom,
		Amount: c.AmountString(),
	})
}

// UnmarshalJSON 同时接受字符串和数字形式的金额
func (c *Coin) UnmarshalJSON(data []byte) error {
	var raw coinJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Denom = raw.Denom
	c.Amount = nil
	if len(raw.Amount) == 0 || string(raw.Amount) == "null" {
		return nil
	}

	text := strings.Trim(string(raw.Amount), `"`)
	amount, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return fmt.Errorf("无效的金额: %s", text)
	}
	c.Amount = amount
	return nil
}

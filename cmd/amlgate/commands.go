package main

import (
	"context"
	"fmt"
	"math/big"

	"amlgate/internal/contract"
	"amlgate/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func decodePubKey(hexKey string) ([]byte, error) {
	pubkey := common.FromHex(hexKey)
	if len(pubkey) == 0 {
		return nil, fmt.Errorf("公钥不能为空")
	}
	return pubkey, nil
}

func newInstantiateCmd() *cobra.Command {
	var pubkey, keyType string

	cmd := &cobra.Command{
		Use:   "instantiate",
		Short: "实例化合约，调用者成为管理员",
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			if err := requireSender(); err != nil {
				return err
			}
			key, err := decodePubKey(pubkey)
			if err != nil {
				return err
			}

			resp, err := e.gateway.Instantiate(ctx, sender, contract.InstantiateMsg{
				OraclePubKey:  key,
				OracleKeyType: keyType,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		}),
	}

	cmd.Flags().StringVar(&pubkey, "oracle-pubkey", "", "预言机公钥（十六进制）")
	cmd.Flags().StringVar(&keyType, "key-type", "secp256k1", "预言机密钥类型 (secp256k1, k256, ecdsa, ed25519, ed)")
	cmd.MarkFlagRequired("oracle-pubkey")
	return cmd
}

func newRotateKeyCmd() *cobra.Command {
	var pubkey, keyType string

	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "管理员轮换预言机公钥",
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			if err := requireSender(); err != nil {
				return err
			}
			key, err := decodePubKey(pubkey)
			if err != nil {
				return err
			}

			msg := contract.RotateOracleKeyMsg{NewPubKey: key}
			if keyType != "" {
				msg.NewKeyType = &keyType
			}
			resp, err := e.gateway.RotateOracleKey(ctx, sender, msg)
			if err != nil {
				return err
			}
			return printJSON(resp)
		}),
	}

	cmd.Flags().StringVar(&pubkey, "pubkey", "", "新的预言机公钥（十六进制）")
	cmd.Flags().StringVar(&keyType, "key-type", "", "新的密钥类型，留空保留原类型")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func newTransferCmd() *cobra.Command {
	var recipient, amount, denom string

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "登记转账请求，等待预言机裁决",
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			if err := requireSender(); err != nil {
				return err
			}
			value, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return fmt.Errorf("金额格式错误: %s", amount)
			}

			resp, id, err := e.gateway.SubmitTransferRequest(ctx, sender, contract.SubmitTransferRequestMsg{
				Recipient: recipient,
				Amount:    models.Coin{Denom: denom, Amount: value},
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"request_id": id, "events": resp.Events})
		}),
	}

	cmd.Flags().StringVar(&recipient, "recipient", "", "收款地址")
	cmd.Flags().StringVar(&amount, "amount", "", "金额（十进制整数）")
	cmd.Flags().StringVar(&denom, "denom", "ustake", "币种")
	cmd.MarkFlagRequired("recipient")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newVerdictCmd() *cobra.Command {
	var verdict models.Verdict
	var deny bool

	cmd := &cobra.Command{
		Use:   "verdict",
		Short: "手动提交预言机裁决",
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			if err := requireSender(); err != nil {
				return err
			}
			verdict.Approved = !deny

			resp, err := e.gateway.SubmitOracleVerdict(ctx, sender, verdict)
			if err != nil {
				return err
			}
			return printJSON(resp)
		}),
	}

	cmd.Flags().Uint64Var(&verdict.RequestID, "request-id", 0, "请求ID")
	cmd.Flags().BoolVar(&deny, "deny", false, "拒绝该请求")
	cmd.Flags().BoolVar(&verdict.Flagged, "flagged", false, "是否命中合规登记")
	cmd.Flags().StringVar(&verdict.Reason, "reason", "", "裁决原因")
	cmd.Flags().Uint64Var(&verdict.RiskScore, "risk-score", 0, "风险分")
	cmd.MarkFlagRequired("request-id")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "查看合约状态与发件箱积压",
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			status, err := e.gateway.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(status)
		}),
	}
}

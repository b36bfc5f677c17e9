package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// USDC on Stellar uses 7 decimal places of minor-unit precision.
const AmountPrecision = 7

// Balance is one asset line on a ledger account.
type Balance struct {
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	Balance     string `json:"balance"`
}

type StellarClientInterface interface {
	GetAccountBalance(address string) ([]Balance, error)
	SendPayment(fromAddress, fromSecret, toAddress, amount, memo string) (string, error)
	AccountExists(address string) (bool, error)
}

type StellarClient struct {
	client            *horizonclient.Client
	networkPassphrase string
	assetCode         string
	assetIssuer       string
}

func NewStellarClient(horizonURL, networkPassphrase, assetCode, assetIssuer string) StellarClientInterface {
	return &StellarClient{
		client:            &horizonclient.Client{HorizonURL: horizonURL},
		networkPassphrase: networkPassphrase,
		assetCode:         assetCode,
		assetIssuer:       assetIssuer,
	}
}

func (s *StellarClient) GetAccountBalance(address string) ([]Balance, error) {
	account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return nil, classifyHorizonError("get balance", err)
	}

	balances := make([]Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		balances = append(balances, Balance{
			AssetCode:   b.Code,
			AssetIssuer: b.Issuer,
			Balance:     b.Balance,
		})
	}
	return balances, nil
}

func (s *StellarClient) SendPayment(fromAddress, fromSecret, toAddress, amount, memo string) (string, error) {
	sourceKP, err := keypair.ParseFull(fromSecret)
	if err != nil {
		return "", &LedgerError{Kind: LedgerErrSubmission, Op: "send payment", Err: fmt.Errorf("invalid source secret: %w", err)}
	}
	if sourceKP.Address() != fromAddress {
		return "", &LedgerError{Kind: LedgerErrSubmission, Op: "send payment", Err: fmt.Errorf("secret does not match source address")}
	}

	sourceAccount, err := s.client.AccountDetail(horizonclient.AccountRequest{
		AccountID: sourceKP.Address(),
	})
	if err != nil {
		return "", classifyHorizonError("send payment", err)
	}

	var asset txnbuild.Asset
	if s.assetCode == "XLM" || s.assetCode == "" {
		asset = txnbuild.NativeAsset{}
	} else {
		asset = txnbuild.CreditAsset{Code: s.assetCode, Issuer: s.assetIssuer}
	}

	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount:        &sourceAccount,
			IncrementSequenceNum: true,
			BaseFee:              txnbuild.MinBaseFee,
			Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewInfiniteTimeout()},
			Memo:                 txnbuild.MemoText(truncateMemo(memo)),
			Operations: []txnbuild.Operation{
				&txnbuild.Payment{
					Destination: toAddress,
					Amount:      amount,
					Asset:       asset,
				},
			},
		},
	)
	if err != nil {
		return "", &LedgerError{Kind: LedgerErrSubmission, Op: "send payment", Err: fmt.Errorf("failed to build transaction: %w", err)}
	}

	tx, err = tx.Sign(s.networkPassphrase, sourceKP)
	if err != nil {
		return "", &LedgerError{Kind: LedgerErrSubmission, Op: "send payment", Err: fmt.Errorf("failed to sign transaction: %w", err)}
	}

	txResp, err := s.client.SubmitTransaction(tx)
	if err != nil {
		return "", classifyHorizonError("send payment", err)
	}

	return txResp.Hash, nil
}

func (s *StellarClient) AccountExists(address string) (bool, error) {
	_, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err == nil {
		return true, nil
	}
	if herr, ok := err.(*horizonclient.Error); ok && herr.Problem.Status == 404 {
		return false, nil
	}
	return false, classifyHorizonError("account exists", err)
}

// AddressFromSecret derives the public account address for a signing secret.
func AddressFromSecret(secret string) (string, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return "", fmt.Errorf("invalid wallet secret: %w", err)
	}
	return kp.Address(), nil
}

// FormatAmount renders an amount with the ledger's minor-unit precision.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(RoundAmount(amount), 'f', AmountPrecision, 64)
}

// RoundAmount rounds to the ledger's minor-unit precision.
func RoundAmount(amount float64) float64 {
	return math.Round(amount*1e7) / 1e7
}

// Text memos are capped at 28 bytes by the network.
func truncateMemo(memo string) string {
	if len(memo) > 28 {
		return memo[:28]
	}
	return memo
}

func classifyHorizonError(op string, err error) error {
	herr, ok := err.(*horizonclient.Error)
	if !ok {
		return &LedgerError{Kind: LedgerErrUnknown, Op: op, Err: err}
	}

	if herr.Problem.Status == 404 {
		return &LedgerError{Kind: LedgerErrAccountNotFound, Op: op, Err: err}
	}

	if codes, cErr := herr.ResultCodes(); cErr == nil && codes != nil {
		for _, opCode := range codes.OperationCodes {
			switch {
			case strings.Contains(opCode, "op_no_trust"):
				return &LedgerError{Kind: LedgerErrNoTrustline, Op: op, Err: err}
			case strings.Contains(opCode, "op_underfunded"):
				return &LedgerError{Kind: LedgerErrInsufficientBalance, Op: op, Err: err}
			case strings.Contains(opCode, "op_no_destination"):
				return &LedgerError{Kind: LedgerErrAccountNotFound, Op: op, Err: err}
			}
		}
	}

	return &LedgerError{Kind: LedgerErrSubmission, Op: op, Err: err}
}

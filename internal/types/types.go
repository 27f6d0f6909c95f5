package types

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction names the router ordering of an arbitrage attempt:
// borrow base, sell on the first router, buy back on the second.
type Direction string

const (
	UniToSushi Direction = "UNI_TO_SUSHI"
	SushiToUni Direction = "SUSHI_TO_UNI"
)

// PairSpec is one configured trading pair with its on-chain token metadata.
type PairSpec struct {
	Name          string `yaml:"name"`
	Base          string `yaml:"base"`
	Quote         string `yaml:"quote"`
	BaseAddr      string `yaml:"base_addr"`
	QuoteAddr     string `yaml:"quote_addr"`
	QuoteDecimals int    `yaml:"quote_decimals"`
}

func (p PairSpec) BaseAddress() common.Address  { return common.HexToAddress(p.BaseAddr) }
func (p PairSpec) QuoteAddress() common.Address { return common.HexToAddress(p.QuoteAddr) }

// QuotePair holds both router prices for one pair, captured in the same cycle.
type QuotePair struct {
	Pair       string
	Router1    string
	Router2    string
	Price1     float64 // quote tokens per 1 base on router1
	Price2     float64
	SpreadPct  float64 // |p1-p2| / max(p1,p2) * 100
	FromCache  bool
	CapturedAt time.Time
}

// FeeBreakdown itemizes every deduction from gross profit, in USD.
type FeeBreakdown struct {
	FlashLoanUSD float64
	ProtocolUSD  float64
	GasUSD       float64
	SlippageUSD  float64
	SafetyUSD    float64
}

func (f FeeBreakdown) TotalUSD() float64 {
	return f.FlashLoanUSD + f.ProtocolUSD + f.GasUSD + f.SlippageUSD + f.SafetyUSD
}

// Opportunity is the evaluator's verdict for one pair in one cycle.
// Immutable once computed; consumed at most once by the executor.
type Opportunity struct {
	Pair      PairSpec
	Direction Direction
	Quotes    QuotePair

	BuyRouter  common.Address // router with the higher observed price
	SellRouter common.Address

	BorrowETH      float64
	GrossUSD       float64
	NetUSD         float64
	ProfitPct      float64 // net profit as % of notional
	Fees           FeeBreakdown
	SlippageTolPct float64
	GasPriceGwei   float64
	Urgency        string

	Profitable bool
	Ts         time.Time
}

// TradeLogEntry is the append-only record of one executed attempt.
type TradeLogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Pair         string    `json:"pair"`
	Direction    Direction `json:"direction"`
	BorrowETH    float64   `json:"borrow_eth"`
	ExpectedUSD  float64   `json:"expected_usd"`
	ActualUSD    float64   `json:"actual_usd"`
	GasUsed      uint64    `json:"gas_used"`
	TxHash       string    `json:"tx_hash"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	EthPriceUSD  float64   `json:"eth_price_usd"`
	GasPriceGwei float64   `json:"gas_price_gwei"`
}

// Error taxonomy. Network/data errors recover locally through caches;
// execution errors never retry within the same cycle.
var (
	ErrNoProviderAvailable = errors.New("no rpc provider available")
	ErrQuoteUnavailable    = errors.New("router quote unavailable")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrTransactionTimeout  = errors.New("confirmation timeout")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// AbortReason marks a deliberate pre-submission no-op, not an error.
type AbortReason string

const (
	AbortInsufficientSafetyMargin AbortReason = "insufficient safety margin"
	AbortLargeTradeSafetyCheck    AbortReason = "large trade safety check"
)

// FailureKind classifies execution errors for reporting only.
type FailureKind string

const (
	FailInsufficientFunds FailureKind = "insufficient_funds"
	FailReverted          FailureKind = "reverted"
	FailFeeTooLow         FailureKind = "fee_too_low"
	FailTimeout           FailureKind = "timeout"
	FailGeneric           FailureKind = "generic"
)

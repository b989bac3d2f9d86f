package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// aggregatorABI covers the two read methods of a Chainlink-style price feed.
const aggregatorABI = `[
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]},
  {"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]}
]`

// ContractCaller is the subset of ethclient.Client the feed needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FeedConfig configures a FeedQuoter.
type FeedConfig struct {
	Feed           common.Address
	NativeDecimals int
	StableDecimals int
	MaxStaleness   time.Duration
	Timeout        time.Duration
}

// FeedQuoter reads a stable-per-native price from an on-chain aggregator and
// inverts it. Quotes round up.
type FeedQuoter struct {
	caller ContractCaller
	abi    abi.ABI
	cfg    FeedConfig
	now    func() time.Time

	feedDecimals uint8
}

// DialFeed connects to rpcURL and returns a FeedQuoter for cfg.Feed.
func DialFeed(ctx context.Context, rpcURL string, cfg FeedConfig) (*FeedQuoter, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle: dial %s: %w", rpcURL, err)
	}
	q, err := NewFeedQuoter(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return q, client, nil
}

// NewFeedQuoter reads the feed's decimals once and returns a ready quoter.
func NewFeedQuoter(ctx context.Context, caller ContractCaller, cfg FeedConfig) (*FeedQuoter, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse aggregator abi: %w", err)
	}
	q := &FeedQuoter{caller: caller, abi: parsed, cfg: cfg, now: time.Now}

	out, err := q.call(ctx, "decimals")
	if err != nil {
		return nil, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("oracle: unexpected decimals type %T", out[0])
	}
	q.feedDecimals = d
	return q, nil
}

// QuoteNative implements market.Quoter.
//
//	native = stable * 10^nativeDec * 10^feedDec / (answer * 10^stableDec)
func (q *FeedQuoter) QuoteNative(ctx context.Context, stableAmount *big.Int) (*big.Int, error) {
	answer, err := q.latestAnswer(ctx)
	if err != nil {
		return nil, err
	}

	num := new(big.Int).Mul(stableAmount, pow10(q.cfg.NativeDecimals+int(q.feedDecimals)))
	den := new(big.Int).Mul(answer, pow10(q.cfg.StableDecimals))

	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// ID identifies this price source in cache keys.
func (q *FeedQuoter) ID() string {
	return "feed:" + strings.ToLower(q.cfg.Feed.Hex())
}

func (q *FeedQuoter) latestAnswer(ctx context.Context) (*big.Int, error) {
	out, err := q.call(ctx, "latestRoundData")
	if err != nil {
		return nil, err
	}
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	if answer == nil || answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive feed answer", domain.ErrQuoteUnavailable)
	}
	if q.cfg.MaxStaleness > 0 && updatedAt != nil {
		age := q.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > q.cfg.MaxStaleness {
			return nil, fmt.Errorf("%w: feed stale by %s", domain.ErrQuoteUnavailable, age.Truncate(time.Second))
		}
	}
	return answer, nil
}

func (q *FeedQuoter) call(ctx context.Context, method string) ([]any, error) {
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}

	data, err := q.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", method, err)
	}
	feed := q.cfg.Feed
	raw, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", domain.ErrQuoteUnavailable, method, err)
	}
	out, err := q.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", domain.ErrQuoteUnavailable, method, err)
	}
	return out, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

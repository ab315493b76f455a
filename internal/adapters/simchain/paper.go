package simchain

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/flashpendle/internal/domain"
	"github.com/alejandrodnm/flashpendle/internal/flasharb"
)

// DeploymentConfig describes the simulated contracts.
type DeploymentConfig struct {
	Contract     common.Address
	Owner        common.Address
	Router       common.Address
	RedeemFeeBps int64
	PoolFeeBps   int64
	Lenders      []domain.LenderRef
	LenderFeeBps int64
}

// Deployment is a Chain with the protocol and the arbitrage contract deployed.
type Deployment struct {
	Chain     *Chain
	Router    *Router
	Tokenizer *Tokenizer
	Exchange  *Exchange
	Contract  *flasharb.Contract
	Owner     common.Address

	poolFeeBps int64
}

// NewDeployment deploys everything on a fresh chain.
func NewDeployment(cfg DeploymentConfig) (*Deployment, error) {
	chain := NewChain()
	d := &Deployment{
		Chain:      chain,
		Router:     NewRouter(chain, cfg.Router, cfg.RedeemFeeBps),
		Tokenizer:  NewTokenizer(chain),
		Exchange:   NewExchange(chain),
		Owner:      cfg.Owner,
		poolFeeBps: cfg.PoolFeeBps,
	}

	lenders := make([]flasharb.FlashLender, 0, len(cfg.Lenders))
	for _, l := range cfg.Lenders {
		switch l.Kind {
		case domain.LenderVault:
			lenders = append(lenders, NewVault(chain, l.Address, cfg.LenderFeeBps))
		case domain.LenderPool:
			lenders = append(lenders, NewPool(chain, l.Address, cfg.LenderFeeBps))
		default:
			return nil, fmt.Errorf("simchain.NewDeployment: lender %s: unknown kind", l.Address.Hex())
		}
	}

	contract, err := flasharb.NewContract(cfg.Contract, cfg.Owner, flasharb.Env{
		Ledger:    chain,
		Router:    d.Router,
		Tokenizer: d.Tokenizer,
		Exchange:  d.Exchange,
		Events:    chain,
	}, lenders...)
	if err != nil {
		return nil, fmt.Errorf("simchain.NewDeployment: %w", err)
	}
	d.Contract = contract
	return d, nil
}

// ListMarket registers the SY, YT and AMM of m.
func (d *Deployment) ListMarket(m domain.Market) {
	d.Router.RegisterSY(m.SY, m.Underlying)
	d.Tokenizer.Register(m.YT, m.SY, m.PT, m.Expiry)
	d.Exchange.RegisterPool(m.Address, m.PT, m.SY, d.poolFeeBps)
}

// SeedPool sets the AMM reserves of m, minting or burning the backing so the
// tokenizer and router stay solvent.
func (d *Deployment) SeedPool(m domain.Market, pt, sy *big.Int) error {
	curPT, curSY, err := d.Exchange.Reserves(m.Address)
	if err != nil {
		return err
	}
	// each PT is backed by one SY at the YT; each SY by one underlying at the SY
	if dPT := new(big.Int).Sub(pt, curPT); dPT.Sign() != 0 {
		d.adjust(m.Underlying, m.SY, dPT)
		d.adjust(m.SY, m.YT, dPT)
		d.adjust(m.PT, m.Address, dPT)
	}
	if dSY := new(big.Int).Sub(sy, curSY); dSY.Sign() != 0 {
		d.adjust(m.Underlying, m.SY, dSY)
		d.adjust(m.SY, m.Address, dSY)
	}
	return nil
}

func (d *Deployment) adjust(token, holder common.Address, delta *big.Int) {
	bal := d.Chain.BalanceOf(token, holder)
	d.Chain.SetBalance(token, holder, bal.Add(bal, delta))
}

// FundLender tops the lender's balance of token up to at least amount.
func (d *Deployment) FundLender(lender, token common.Address, amount *big.Int) {
	if d.Chain.BalanceOf(token, lender).Cmp(amount) < 0 {
		d.Chain.SetBalance(token, lender, amount)
	}
}

// SetExpiry moves the expiry of m's YT.
func (d *Deployment) SetExpiry(m domain.Market, expiry time.Time) {
	d.Tokenizer.Register(m.YT, m.SY, m.PT, expiry)
}

// PaperExecutor runs attempts against a Deployment seeded from live reserves.
type PaperExecutor struct {
	mu sync.Mutex
	d  *Deployment
}

// NewPaperExecutor wraps d.
func NewPaperExecutor(d *Deployment) *PaperExecutor {
	return &PaperExecutor{d: d}
}

// Prepare lists m if needed and aligns the simulated pool with st.
func (p *PaperExecutor) Prepare(_ context.Context, m domain.Market, st domain.PoolState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.d.ListMarket(m)
	if st.Expired {
		p.d.SetExpiry(m, p.d.Chain.Now().Add(-time.Second))
	}
	pt := domain.ToWei(st.ReservePT, m.UnderlyingDecimals)
	sy := domain.ToWei(st.ReserveSY, m.UnderlyingDecimals)
	if err := p.d.SeedPool(m, pt, sy); err != nil {
		return fmt.Errorf("simchain.Prepare: %w", err)
	}
	return nil
}

// Execute runs params atomically on the simulated chain.
func (p *PaperExecutor) Execute(ctx context.Context, params domain.ArbitrageParameters) (domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.d.FundLender(params.Lender.Address, params.Underlying, params.BorrowAmount)

	var s flasharb.Settlement
	err := p.d.Chain.Atomic(func() error {
		var err error
		s, err = p.d.Contract.ExecuteArbitrage(p.d.Owner, params)
		return err
	})
	if err != nil {
		slog.Debug("paper: attempt reverted", "market", params.Market.Hex(), "err", err)
		return domain.ExecutionResult{}, err
	}

	block := p.d.Chain.Block()
	return domain.ExecutionResult{
		TxHash:      paperTxHash(params, block).Hex(),
		Profit:      s.Profit,
		Fee:         s.Fee,
		BlockNumber: block,
	}, nil
}

// Mode reports paper.
func (p *PaperExecutor) Mode() domain.ExecutionMode { return domain.ModePaper }

func paperTxHash(params domain.ArbitrageParameters, block uint64) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	data, _ := domain.EncodeArbitrageParameters(params)
	return crypto.Keccak256Hash(data, b[:])
}

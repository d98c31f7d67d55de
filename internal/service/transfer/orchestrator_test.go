package transfer

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"

	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendErc20_SubsidyChargedFromAmount(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))
	f.preApprove(sender)

	out, err := f.orch.SendErc20(context.Background(), Request{
		UserID:           "alice",
		Currency:         "usdc",
		Amount:           usdc("1.0"),
		To:               recipient.Hex(),
		ChargeFromAmount: true,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StateConfirmed, out.State)
	assert.Equal(t, "0.95", out.RecipientAmount.String())
	assert.Equal(t, "0.05", out.SubsidyAmount.String())
	assert.NotEmpty(t, out.TxHash)

	// 收款方 0.95，流动性账户 0.05，发送方共扣 1.0
	assert.Equal(t, big.NewInt(950_000), f.backend.Token(usdcAddr, recipient))
	assert.Equal(t, big.NewInt(50_000), f.backend.Token(usdcAddr, f.liquidity))
	assert.Equal(t, big.NewInt(1_000_000), f.backend.Token(usdcAddr, sender))
	assert.Equal(t, 0, f.backend.Eth(sender).Sign(), "forwarded ETH covers the primary gas exactly")

	stored := f.repo.only(t)
	assert.Equal(t, []model.Leg{model.LegSubsidyCollect, model.LegSubsidyForward, model.LegPrimary}, legNames(stored.Legs))
	for _, l := range stored.Legs {
		assert.Equal(t, model.TxConfirmed, l.Status, l.Leg)
		assert.NotEmpty(t, l.RawPayload)
	}
	assert.Equal(t, []string{event.TypeConfirmed}, f.repo.eventTypes())
}

func TestSendErc20_FirstTimeApprovalPath(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))

	out, err := f.orch.SendErc20(context.Background(), Request{
		UserID:   "alice",
		Currency: "USDC",
		Amount:   usdc("1"),
		To:       recipient.Hex(),
	})
	require.NoError(t, err)

	// funding + approve + collect + forward + primary = 200000 gas, 0.08 USDC
	assert.Equal(t, "0.08", out.SubsidyAmount.String())
	assert.Equal(t, "1", out.RecipientAmount.String())
	assert.Equal(t, big.NewInt(1_000_000), f.backend.Token(usdcAddr, recipient))
	assert.Equal(t, big.NewInt(80_000), f.backend.Token(usdcAddr, f.liquidity))
	assert.Equal(t, big.NewInt(920_000), f.backend.Token(usdcAddr, sender))

	stored := f.repo.only(t)
	assert.Equal(t, []model.Leg{
		model.LegApprovalFunding,
		model.LegApprove,
		model.LegSubsidyCollect,
		model.LegSubsidyForward,
		model.LegPrimary,
	}, legNames(stored.Legs))

	approved, err := f.repo.IsApproved(context.Background(), sender.Hex(), usdcAddr.Hex(), f.liquidity.Hex())
	require.NoError(t, err)
	assert.True(t, approved)

	// 第二次不再授权
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))
	_, err = f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	require.NoError(t, err)
	assert.Equal(t, 5+3, f.backend.SentCount())
}

func TestSendErc20_NoSubsidyWhenSenderHasGas(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(1_000_000))
	f.backend.SetEth(sender, big.NewInt(1e18))

	out, err := f.orch.SendErc20(context.Background(), Request{
		UserID:           "alice",
		Currency:         "USDC",
		Amount:           usdc("1"),
		To:               recipient.Hex(),
		ChargeFromAmount: true,
	})
	require.NoError(t, err)
	assert.True(t, out.SubsidyAmount.IsZero())
	assert.Equal(t, "1", out.RecipientAmount.String())
	assert.Equal(t, 1, f.backend.SentCount())
	assert.Equal(t, 0, f.backend.Token(usdcAddr, f.liquidity).Sign())
}

func TestSendErc20_FailsBeforeAnyTransaction(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		amount  string
		charge  bool
		prices  bool
		want    error
	}{
		{name: "balance below amount plus subsidy", balance: 1_000_000, amount: "1", want: errno.ErrInsufficientFunds},
		{name: "balance below amount", balance: 500_000, amount: "1", charge: true, want: errno.ErrInsufficientFunds},
		{name: "subsidy exceeds amount", balance: 1_000_000, amount: "0.01", want: errno.ErrChargeExceedsAmount},
		{name: "subsidy equals amount when charged", balance: 1_000_000, amount: "0.05", charge: true, want: errno.ErrChargeExceedsAmount},
		{name: "oracle down", balance: 2_000_000, amount: "1", prices: true, want: errno.ErrQuoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prices {
				delete(f.prices, "usd-coin")
			}
			sender := f.newUser(t, "alice")
			f.backend.SetToken(usdcAddr, sender, big.NewInt(tt.balance))
			f.preApprove(sender)

			out, err := f.orch.SendErc20(context.Background(), Request{
				UserID:           "alice",
				Currency:         "USDC",
				Amount:           usdc(tt.amount),
				To:               recipient.Hex(),
				ChargeFromAmount: tt.charge,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.backend.SentCount())

			require.NotNil(t, out)
			stored := f.repo.only(t)
			assert.Equal(t, model.StateFailed, stored.State)
			assert.Equal(t, errno.From(tt.want).Code, stored.FailureCode)
			assert.False(t, stored.PartialFailure)
			assert.Empty(t, stored.Legs)
		})
	}
}

func TestSendErc20_RejectsBadInputWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.newUser(t, "alice")

	_, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "DOGE", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrCurrencyNotFound)
	assert.Equal(t, 404, errno.From(err).HTTPStatus)

	_, err = f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: "0x1234"})
	assert.ErrorIs(t, err, errno.ErrBind)

	_, err = f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("0.0000001"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)

	_, err = f.orch.SendErc20(context.Background(), Request{UserID: "nobody", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrAccountNotFound)

	assert.Equal(t, 0, f.repo.transferCount())
	assert.Equal(t, 0, f.backend.SentCount())
}

func TestSendErc20_GasPriceCeiling(t *testing.T) {
	f := newFixture(t)
	f.orch.cfg.MaxGasPrice = big.NewInt(100_000_000)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))

	_, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrGasPriceTooHigh)
	assert.Equal(t, 0, f.backend.SentCount())
}

func TestSendErc20_PrimaryRevertWithoutSubsidy(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(1_000_000))
	f.backend.SetEth(sender, big.NewInt(1e18))
	f.backend.RevertIf = func(tx *types.Transaction, from common.Address) bool { return from == sender }

	_, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrOnChainRevert)
	assert.False(t, errors.Is(err, errno.ErrPartialSettlement))

	stored := f.repo.only(t)
	assert.Equal(t, model.StateFailed, stored.State)
	assert.False(t, stored.PartialFailure)
	require.Len(t, stored.Legs, 1)
	assert.Equal(t, model.TxFailed, stored.Legs[0].Status)
	assert.Equal(t, []string{event.TypeFailed}, f.repo.eventTypes())
}

func TestSendErc20_PartialFailureAfterSubsidySettled(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))
	f.preApprove(sender)
	f.backend.RevertIf = func(tx *types.Transaction, from common.Address) bool { return from == sender }

	out, err := f.orch.SendErc20(context.Background(), Request{
		UserID:           "alice",
		Currency:         "USDC",
		Amount:           usdc("1"),
		To:               recipient.Hex(),
		ChargeFromAmount: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errno.ErrPartialSettlement)
	require.NotNil(t, out)
	assert.True(t, out.PartialFailure)

	stored := f.repo.only(t)
	assert.Equal(t, model.StateFailed, stored.State)
	assert.True(t, stored.PartialFailure)
	assert.Equal(t, errno.ErrOnChainRevert.Code, stored.FailureCode)
	assert.Equal(t, []string{event.TypePartialFailure, event.TypeFailed}, f.repo.eventTypes())

	// 补贴已经收取，收款方没有收到
	assert.Equal(t, big.NewInt(50_000), f.backend.Token(usdcAddr, f.liquidity))
	assert.Equal(t, 0, f.backend.Token(usdcAddr, recipient).Sign())
}

func TestSendErc20_SubsidyLegFailureStopsRelay(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))
	f.preApprove(sender)
	// transferFrom 失败
	f.backend.RevertIf = func(tx *types.Transaction, from common.Address) bool { return from == f.liquidity }

	_, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrOnChainRevert)
	assert.Equal(t, 1, f.backend.SentCount())

	stored := f.repo.only(t)
	assert.False(t, stored.PartialFailure)
	assert.Equal(t, []model.Leg{model.LegSubsidyCollect}, legNames(stored.Legs))
}

func TestSendErc20_ConfirmationPendingKeepsSubmitted(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(1_000_000))
	f.backend.SetEth(sender, big.NewInt(1e18))
	f.backend.HoldReceipts = true

	out, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrConfirmationPending)
	require.NotNil(t, out)
	assert.Equal(t, model.StateSubmitted, out.State)
	assert.NotEmpty(t, out.TxHash)

	stored := f.repo.only(t)
	assert.Equal(t, model.StateSubmitted, stored.State)
	require.Len(t, stored.Legs, 1)
	assert.Equal(t, model.TxSubmitted, stored.Legs[0].Status)

	// nonce 已提交，不会被复用
	next, err := f.nonces.Peek(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
}

func TestSendErc20_BroadcastFailureReleasesNonce(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(1_000_000))
	f.backend.SetEth(sender, big.NewInt(1e18))
	f.backend.SendErr = errors.New("connection refused")

	_, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	assert.ErrorIs(t, err, errno.ErrProviderUnavailable)

	stored := f.repo.only(t)
	require.Len(t, stored.Legs, 1)
	assert.Equal(t, model.TxFailed, stored.Legs[0].Status)

	f.backend.SendErr = nil
	_, err = f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.backend.SentTxs()[0].Nonce())
}

func TestConcurrentRelaysShareLiquidityNonces(t *testing.T) {
	f := newFixture(t)
	const n = 5
	users := make([]string, n)
	for i := range users {
		users[i] = string(rune('a' + i))
		addr := f.newUser(t, users[i])
		f.backend.SetToken(usdcAddr, addr, big.NewInt(2_000_000))
		f.preApprove(addr)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range users {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.orch.SendErc20(context.Background(), Request{
				UserID: id, Currency: "USDC", Amount: usdc("1"), To: recipient.Hex(), ChargeFromAmount: true,
			})
		}(i, id)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var liqNonces []uint64
	for _, tx := range f.backend.SentTxs() {
		if f.backend.Sender(tx) == f.liquidity {
			liqNonces = append(liqNonces, tx.Nonce())
		}
	}
	sort.Slice(liqNonces, func(i, j int) bool { return liqNonces[i] < liqNonces[j] })
	require.Len(t, liqNonces, 2*n)
	for i, v := range liqNonces {
		assert.Equal(t, uint64(i), v)
	}
}

func TestSendEth(t *testing.T) {
	t.Run("charge from amount", func(t *testing.T) {
		f := newFixture(t)
		sender := f.newUser(t, "alice")
		f.backend.SetEth(sender, big.NewInt(1e18))

		out, err := f.orch.SendEth(context.Background(), Request{
			UserID: "alice", Currency: "ETH", Amount: usdc("1"), To: recipient.Hex(), ChargeFromAmount: true,
		})
		require.NoError(t, err)
		// 25000 * 0.2 gwei = 5e12 wei
		want := new(big.Int).Sub(big.NewInt(1e18), big.NewInt(5e12))
		assert.Equal(t, want, f.backend.Eth(recipient))
		assert.Equal(t, "0.999995", out.RecipientAmount.String())
		assert.Equal(t, 0, f.backend.Eth(sender).Sign())
	})

	t.Run("insufficient for amount plus gas", func(t *testing.T) {
		f := newFixture(t)
		sender := f.newUser(t, "alice")
		f.backend.SetEth(sender, big.NewInt(1e18))

		_, err := f.orch.SendEth(context.Background(), Request{UserID: "alice", Amount: usdc("1"), To: recipient.Hex()})
		assert.ErrorIs(t, err, errno.ErrInsufficientFunds)
		assert.Equal(t, 0, f.backend.SentCount())
	})
}

func TestEthToErc20(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetEth(sender, big.NewInt(1e18))
	// 1 USDC = 0.0005 ETH
	f.backend.AddPool(usdcAddr, big.NewInt(500_000_000))

	out, err := f.orch.EthToErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("0.01")})
	require.NoError(t, err)
	assert.Equal(t, model.KindEthToErc20, out.Kind)
	assert.Equal(t, "19.9", out.RecipientAmount.String())
	assert.Equal(t, sender.Hex(), out.To)
	assert.Equal(t, big.NewInt(20_000_000), f.backend.Token(usdcAddr, sender))

	tx := f.backend.SentTxs()[0]
	assert.Equal(t, f.backend.Router, *tx.To())
	assert.Equal(t, big.NewInt(1e16), tx.Value())
}

func TestErc20ToEth_SubsidyAndRouterApproval(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(10_000_000))
	f.backend.AddPool(usdcAddr, big.NewInt(500_000_000))
	f.preApprove(sender)

	out, err := f.orch.Erc20ToEth(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("10")})
	require.NoError(t, err)

	// swap 100000 + router approve 50000 + collect 50000 + forward 25000 = 225000 gas = 0.09 USDC
	assert.Equal(t, "0.09", out.SubsidyAmount.String())
	stored := f.repo.only(t)
	assert.True(t, stored.ChargeFromAmount)
	assert.Equal(t, []model.Leg{
		model.LegSubsidyCollect,
		model.LegSubsidyForward,
		model.LegRouterApprove,
		model.LegPrimary,
	}, legNames(stored.Legs))

	// 按 9.91 USDC 兑换
	assert.Equal(t, 0, f.backend.Token(usdcAddr, sender).Sign())
	assert.Equal(t, big.NewInt(90_000), f.backend.Token(usdcAddr, f.liquidity))
	assert.Equal(t, big.NewInt(4_955_000_000_000_000), f.backend.Eth(sender))
	assert.Equal(t, "0.004930225", out.RecipientAmount.String())

	approved, err := f.repo.IsApproved(context.Background(), sender.Hex(), usdcAddr.Hex(), f.backend.Router.Hex())
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestSwapsRejectWrappedNativeToken(t *testing.T) {
	f := newFixture(t)
	f.newUser(t, "alice")

	_, err := f.orch.Erc20ToEth(context.Background(), Request{UserID: "alice", Currency: "WETH", Amount: usdc("1")})
	assert.ErrorIs(t, err, errno.ErrUnsupportedRoute)
	_, err = f.orch.EthToErc20(context.Background(), Request{UserID: "alice", Currency: "WETH", Amount: usdc("1")})
	assert.ErrorIs(t, err, errno.ErrUnsupportedRoute)
	assert.Equal(t, 0, f.repo.transferCount())
}

func TestErc20ToEth_MissingPool(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(10_000_000))
	f.backend.SetEth(sender, big.NewInt(1e18))

	_, err := f.orch.Erc20ToEth(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("10")})
	assert.ErrorIs(t, err, errno.ErrUnsupportedRoute)
	assert.Equal(t, 0, f.backend.SentCount())
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.newUser(t, "bob")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(1_000_000))
	f.backend.SetEth(sender, big.NewInt(1e18))

	out, err := f.orch.SendErc20(context.Background(), Request{UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex()})
	require.NoError(t, err)

	got, err := f.orch.Get(context.Background(), "alice", out.TransferID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, got.State)
	assert.Equal(t, out.TxHash, got.TxHash)
	require.Len(t, got.Legs, 1)

	_, err = f.orch.Get(context.Background(), "bob", out.TransferID)
	assert.ErrorIs(t, err, errno.ErrTransferNotFound)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	sender := f.newUser(t, "alice")
	f.backend.SetToken(usdcAddr, sender, big.NewInt(2_000_000))
	f.preApprove(sender)

	q, err := f.orch.Quote(context.Background(), model.KindSendErc20, Request{
		UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: recipient.Hex(), ChargeFromAmount: true,
	})
	require.NoError(t, err)
	assert.True(t, q.SubsidyRequired)
	assert.False(t, q.ApprovalNeeded)
	assert.Equal(t, "0.05", q.SubsidyAmount.String())
	assert.Equal(t, "0.95", q.RecipientAmount.String())
	assert.Equal(t, uint64(50_000), q.GasLimit)

	// 不带收款地址 (HTTP 查询的默认形式) 也能估算
	noTo, err := f.orch.Quote(context.Background(), model.KindSendErc20, Request{
		UserID: "alice", Currency: "USDC", Amount: usdc("1"), ChargeFromAmount: true,
	})
	require.NoError(t, err)
	assert.Equal(t, q.SubsidyAmount.String(), noTo.SubsidyAmount.String())
	assert.Equal(t, "0.95", noTo.RecipientAmount.String())

	_, err = f.orch.Quote(context.Background(), model.KindSendErc20, Request{
		UserID: "alice", Currency: "USDC", Amount: usdc("1"), To: "0xnope",
	})
	assert.ErrorIs(t, err, errno.ErrBind)

	assert.Equal(t, 0, f.backend.SentCount())
	assert.Equal(t, 0, f.repo.transferCount())

	_, err = f.orch.Quote(context.Background(), model.KindSendEth, Request{UserID: "alice", Currency: "USDC", Amount: usdc("1")})
	assert.ErrorIs(t, err, errno.ErrUnsupportedRoute)
}

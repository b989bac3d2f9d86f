package market

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func TestSettersAreOwnerOnlyAndBounded(t *testing.T) {
	e, _ := newTestEngine(t)
	exclusive := func(caller common.Address, bips uint32) error {
		return e.SetExclusiveReferralBips(caller, agent, bips)
	}
	setters := map[string]func(common.Address, uint32) error{
		"platform fee":       e.SetPlatformFee,
		"default referral":   e.SetDefaultReferralBips,
		"min bid increment":  e.SetMinBidIncrementBips,
		"min listing price":  e.SetMinListingPriceBips,
		"exclusive referral": exclusive,
	}
	for name, set := range setters {
		t.Run(name, func(t *testing.T) {
			requireKind(t, set(alice, 100), domain.ErrUnauthorized)
			requireKind(t, set(owner, 10_000), domain.ErrInvalidBips)
			requireKind(t, set(owner, 12_345), domain.ErrInvalidBips)
			require.NoError(t, set(owner, 9_999))
		})
	}

	s := e.Settings()
	assert.Equal(t, uint32(9_999), s.PlatformFeeBips)
	assert.Equal(t, uint32(9_999), s.DefaultReferralBips)
	assert.Equal(t, uint32(9_999), s.MinBidIncrementBips)
	assert.Equal(t, uint32(9_999), s.MinListingPriceBips)
	assert.Equal(t, uint32(9_999), s.ExclusiveBips[agent])

	requireKind(t, e.UpdateAgentWhitelistStatus(alice, agent, true), domain.ErrUnauthorized)
	requireKind(t, e.UpdateBlacklist(alice, bob, true), domain.ErrUnauthorized)
	requireKind(t, e.SetFeeRecipient(alice, alice), domain.ErrUnauthorized)
	requireKind(t, e.SetAdministrator(alice, alice, true), domain.ErrUnauthorized)
}

func TestComputeFees(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.UpdateAgentWhitelistStatus(owner, agent, true))

	fees, err := e.ComputeFees(amt(10_000), 1, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "250", fees.PlatformFee.String())
	assert.Zero(t, fees.Commission.Sign())
	assert.Equal(t, "9750", fees.NetToSeller.String())

	fees, _ = e.ComputeFees(amt(10_000), 1, agent)
	assert.Equal(t, "1000", fees.Commission.String())
	assert.Equal(t, "8750", fees.NetToSeller.String())

	require.NoError(t, e.SetExclusiveReferralBips(owner, agent, 300))
	fees, _ = e.ComputeFees(amt(10_000), 1, agent)
	assert.Equal(t, "300", fees.Commission.String())
	assert.Equal(t, "9450", fees.NetToSeller.String())

	_, err = e.ComputeFees(amt(-1), 1, agent)
	requireKind(t, err, domain.ErrInvalidParameters)
}

func TestCommissionCappedAtGrossLessFee(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.UpdateAgentWhitelistStatus(owner, agent, true))
	require.NoError(t, e.SetPlatformFee(owner, 9_000))
	require.NoError(t, e.SetExclusiveReferralBips(owner, agent, 5_000))

	fees, err := e.ComputeFees(amt(100), 1, agent)
	require.NoError(t, err)
	assert.Equal(t, "90", fees.PlatformFee.String())
	assert.Equal(t, "10", fees.Commission.String())
	assert.Zero(t, fees.NetToSeller.Sign())
}

func TestSettingChangesEmitEvents(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestEngine(t, WithEventSink(sink))
	require.NoError(t, e.SetPlatformFee(owner, 100))
	require.NoError(t, e.UpdateAgentWhitelistStatus(owner, agent, true))

	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventSettingChanged, sink.events[0].Kind)
	assert.Equal(t, "setPlatformFee", sink.events[0].Fields["setting"])
	assert.Equal(t, "100", sink.events[0].Fields["value"])
}

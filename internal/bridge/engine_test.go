package bridge

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdao/ledgerd/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testAddr(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

var bridgeAdmin = testAddr(0)

func validatorSet(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = testAddr(100 + i)
	}
	return out
}

func newTestEngine(t *testing.T, required uint64, validators int) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	e, err := New(Config{
		Admin:                bridgeAdmin,
		SourceDomain:         1,
		FeeBps:               10,
		RequiredAttestations: required,
		Validators:           validatorSet(validators),
	}, clock.Now)
	require.NoError(t, err)
	return e, clock
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Admin: bridgeAdmin, FeeBps: 501, RequiredAttestations: 1, Validators: validatorSet(1)}, nil)
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)

	_, err = New(Config{Admin: bridgeAdmin, FeeBps: 10, RequiredAttestations: 0, Validators: validatorSet(1)}, nil)
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)

	_, err = New(Config{Admin: bridgeAdmin, FeeBps: 10, RequiredAttestations: 3, Validators: validatorSet(2)}, nil)
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)
}

func TestInitiateBridge(t *testing.T) {
	e, _ := newTestEngine(t, 3, 5)

	_, _, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(0), 2)
	assert.ErrorIs(t, err, domain.ErrInsufficient)

	// Destination must differ from the source domain.
	_, _, err = e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(1000), 1)
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)

	tx, events, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(10_000), 2)
	require.NoError(t, err)
	// 10 bps fee on 10000 is 10; the stored amount is net.
	assert.Equal(t, big.NewInt(9_990), tx.Amount)
	assert.Equal(t, big.NewInt(10), tx.Fee)
	assert.Equal(t, uint64(0), tx.Nonce)
	assert.False(t, tx.IsCompleted)
	assert.NotEmpty(t, tx.Hash)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBridgeInitiated, events[0].Name)

	// Nonce advances per transfer, so an identical request gets a new hash.
	tx2, _, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(10_000), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tx2.Nonce)
	assert.NotEqual(t, tx.Hash, tx2.Hash)

	state := e.State()
	assert.Equal(t, big.NewInt(20_000), state.TotalLocked)
	assert.Equal(t, uint64(2), state.Nonce)
}

// Scenario: 5 validators with a threshold of 3. Two attestations leave the
// transfer pending, the third completes it, and a fourth is rejected.
func TestAttestationThreshold(t *testing.T) {
	e, _ := newTestEngine(t, 3, 5)
	vals := validatorSet(5)

	tx, _, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(10_000), 2)
	require.NoError(t, err)

	// A non-validator cannot attest.
	_, _, err = e.SubmitAttestation(testAddr(10), tx.Hash)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, _, err := e.SubmitAttestation(vals[0], tx.Hash)
	require.NoError(t, err)
	assert.False(t, got.IsCompleted)

	// The same validator cannot attest twice.
	_, _, err = e.SubmitAttestation(vals[0], tx.Hash)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, _, err = e.SubmitAttestation(vals[1], tx.Hash)
	require.NoError(t, err)
	assert.False(t, got.IsCompleted)
	assert.Len(t, got.Attestors, 2)

	got, events, err := e.SubmitAttestation(vals[2], tx.Hash)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventAttestationSubmitted, events[0].Name)
	assert.Equal(t, domain.EventBridgeCompleted, events[1].Name)

	// Completion is terminal.
	_, _, err = e.SubmitAttestation(vals[3], tx.Hash)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, big.NewInt(9_990), e.State().TotalReleased)
}

func TestAttestUnknownTransaction(t *testing.T) {
	e, _ := newTestEngine(t, 2, 3)
	_, _, err := e.SubmitAttestation(validatorSet(3)[0], "0xdeadbeef")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidatorManagement(t *testing.T) {
	e, _ := newTestEngine(t, 2, 3)
	vals := validatorSet(3)

	// Admin only.
	_, err := e.AddValidator(vals[0], testAddr(200))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.AddValidator(bridgeAdmin, vals[0])
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = e.AddValidator(bridgeAdmin, testAddr(200))
	require.NoError(t, err)
	assert.Len(t, e.State().Validators, 4)

	_, err = e.RemoveValidator(bridgeAdmin, testAddr(200))
	require.NoError(t, err)
	_, err = e.RemoveValidator(bridgeAdmin, testAddr(200))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Threshold bounds follow the live validator count.
	assert.ErrorIs(t, e.UpdateRequiredAttestations(bridgeAdmin, 0), domain.ErrOutOfBounds)
	assert.ErrorIs(t, e.UpdateRequiredAttestations(bridgeAdmin, 4), domain.ErrOutOfBounds)
	assert.NoError(t, e.UpdateRequiredAttestations(bridgeAdmin, 3))

	// The set cannot shrink below the threshold.
	_, err = e.RemoveValidator(bridgeAdmin, vals[0])
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRemovedValidatorAttestationsStillCount(t *testing.T) {
	e, _ := newTestEngine(t, 2, 3)
	vals := validatorSet(3)

	tx, _, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(5_000), 7)
	require.NoError(t, err)

	_, _, err = e.SubmitAttestation(vals[0], tx.Hash)
	require.NoError(t, err)

	_, err = e.RemoveValidator(bridgeAdmin, vals[0])
	require.NoError(t, err)

	// The removed validator's attestation still counts toward the quorum.
	got, _, err := e.SubmitAttestation(vals[1], tx.Hash)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
}

func TestPauseBlocksInitiateNotAttest(t *testing.T) {
	e, _ := newTestEngine(t, 2, 3)
	vals := validatorSet(3)

	tx, _, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(5_000), 2)
	require.NoError(t, err)

	_, err = e.Pause(vals[0])
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.Pause(bridgeAdmin)
	require.NoError(t, err)

	_, _, err = e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(5_000), 2)
	assert.ErrorIs(t, err, domain.ErrHalted)

	// In-flight transfers still reach quorum while paused.
	_, _, err = e.SubmitAttestation(vals[0], tx.Hash)
	require.NoError(t, err)
	got, _, err := e.SubmitAttestation(vals[1], tx.Hash)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)

	_, err = e.Unpause(bridgeAdmin)
	require.NoError(t, err)
	_, _, err = e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(5_000), 2)
	assert.NoError(t, err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e, clock := newTestEngine(t, 2, 3)
	vals := validatorSet(3)

	tx, _, err := e.InitiateBridge(testAddr(10), testAddr(11), big.NewInt(5_000), 2)
	require.NoError(t, err)
	_, _, err = e.SubmitAttestation(vals[0], tx.Hash)
	require.NoError(t, err)

	snap := e.Snapshot()

	restored, err := New(Config{
		Admin:                bridgeAdmin,
		SourceDomain:         1,
		FeeBps:               10,
		RequiredAttestations: 2,
		Validators:           vals,
	}, clock.Now)
	require.NoError(t, err)
	restored.Restore(snap)

	assert.Equal(t, e.State(), restored.State())
	assert.Equal(t, e.Transactions(), restored.Transactions())

	// The restored replica completes the transfer the same way.
	got, _, err := restored.SubmitAttestation(vals[1], tx.Hash)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
}

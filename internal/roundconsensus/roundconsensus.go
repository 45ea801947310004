// Package roundconsensus aggregates each peer's RoundConsensusItem
// proposal into the epoch's single agreed RoundConsensus row, then drives
// the chain follower up to the agreed height (spec §4.5).
package roundconsensus

import (
	"context"
	"fmt"
	"sort"

	"github.com/chaumfed/fedwallet/internal/chainfollower"
	"github.com/chaumfed/fedwallet/internal/kvkeys"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/walleterr"
)

// PeerRoundItem pairs a peer's identity with its round proposal.
type PeerRoundItem struct {
	Peer models.PeerID
	Item models.RoundConsensusItem
}

// Aggregate computes the epoch's agreed RoundConsensus from every peer's
// proposal: fee rate and block height are each the median of ascending
// proposals (element at len/2), and the randomness beacon is the XOR-fold
// of every 32-byte contribution. It panics if items is empty, or if the
// resulting median height regresses behind consensusHeight -- both are
// federation-break conditions per spec §7, not recoverable errors.
func Aggregate(items []PeerRoundItem, consensusHeight uint32) models.RoundConsensus {
	if len(items) == 0 {
		walleterr.Fatal("round consensus: empty round_items")
	}

	heights := make([]uint32, len(items))
	feeRates := make([]models.Feerate, len(items))
	var randomness [32]byte
	for i, it := range items {
		heights[i] = it.Item.Height
		feeRates[i] = it.Item.FeeRate
		for b := 0; b < 32; b++ {
			randomness[b] ^= it.Item.Randomness[b]
		}
	}

	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	sort.Slice(feeRates, func(i, j int) bool { return feeRates[i] < feeRates[j] })

	medianHeight := heights[len(heights)/2]
	medianFeeRate := feeRates[len(feeRates)/2]

	if medianHeight < consensusHeight {
		walleterr.Fatal("round consensus: median block height %d regressed behind consensus height %d", medianHeight, consensusHeight)
	}

	return models.RoundConsensus{
		BlockHeight:      medianHeight,
		FeeRate:          medianFeeRate,
		RandomnessBeacon: randomness,
	}
}

// ApplyRoundConsensus aggregates items, persists the new RoundConsensus
// row, and drives the chain follower from consensusHeight up to the agreed
// height.
func ApplyRoundConsensus(
	ctx context.Context,
	follower *chainfollower.Follower,
	batch *kvstore.Batch,
	items []PeerRoundItem,
	consensusHeight uint32,
) (models.RoundConsensus, error) {
	consensus := Aggregate(items, consensusHeight)

	encoded, err := models.EncodeRoundConsensus(consensus)
	if err != nil {
		return models.RoundConsensus{}, fmt.Errorf("roundconsensus: encode round consensus: %w", err)
	}
	batch.Put(kvkeys.RoundConsensusRow, encoded)

	if err := follower.SyncUpToConsensusHeight(ctx, batch, uint64(consensusHeight), uint64(consensus.BlockHeight)); err != nil {
		return models.RoundConsensus{}, fmt.Errorf("roundconsensus: sync chain follower: %w", err)
	}

	return consensus, nil
}

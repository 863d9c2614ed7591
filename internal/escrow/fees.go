package escrow

import (
	"math/big"

	"github.com/openwork-labs/escrowd/internal/platform"
	"github.com/openwork-labs/escrowd/internal/token"
)

// FeeRates is the three-way fee snapshot frozen into a transaction at
// creation time.
type FeeRates struct {
	Protocol       int64
	OriginService  int64
	OriginProposal int64
}

// ComputeFees snapshots the current rates: the protocol-wide rate, the
// origin-service rate from the service's platform, and the
// origin-validated-proposal rate from the proposal's platform. Called
// exactly once per transaction.
func ComputeFees(servicePlatform, proposalPlatform *platform.Platform, protocolRate int64) FeeRates {
	return FeeRates{
		Protocol:       protocolRate,
		OriginService:  servicePlatform.OriginServiceFeeRate,
		OriginProposal: proposalPlatform.OriginProposalFeeRate,
	}
}

// Total returns the combined rate in basis points.
func (f FeeRates) Total() int64 {
	return f.Protocol + f.OriginService + f.OriginProposal
}

// feeShares splits the fee charged on amount into its three components.
// Each share truncates independently, so their sum may undershoot
// FeeShare(amount, Total()); the difference stays locked and is refunded
// to the sender as dust at resolution.
func (tx *Transaction) feeShares(amount *big.Int) (protocol, service, proposal *big.Int) {
	protocol = token.FeeShare(amount, tx.ProtocolFeeRate)
	service = token.FeeShare(amount, tx.OriginServiceFeeRate)
	proposal = token.FeeShare(amount, tx.OriginProposalFeeRate)
	return
}

// rates returns the transaction's frozen snapshot.
func (tx *Transaction) rates() FeeRates {
	return FeeRates{
		Protocol:       tx.ProtocolFeeRate,
		OriginService:  tx.OriginServiceFeeRate,
		OriginProposal: tx.OriginProposalFeeRate,
	}
}

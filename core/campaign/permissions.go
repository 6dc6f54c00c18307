package campaign

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"crowdfund/core/amount"
)

// Action names a mutating operation an actor can attempt against a campaign.
type Action string

const (
	ActionDonate   Action = "donate"
	ActionWithdraw Action = "withdraw"
	ActionCancel   Action = "cancel"
	ActionRefund   Action = "refund"
	ActionCreate   Action = "create"
)

// ActionSet holds the independent predictions of which actions the ledger is
// likely to accept. The ledger still decides.
type ActionSet struct {
	CanDonate   bool `json:"can_donate"`
	CanWithdraw bool `json:"can_withdraw"`
	CanCancel   bool `json:"can_cancel"`
	CanRefund   bool `json:"can_refund"`
}

// Allows reports whether the set predicts the action to be legal. Campaign
// creation is not gated by an existing campaign and always returns false.
func (a ActionSet) Allows(action Action) bool {
	switch action {
	case ActionDonate:
		return a.CanDonate
	case ActionWithdraw:
		return a.CanWithdraw
	case ActionCancel:
		return a.CanCancel
	case ActionRefund:
		return a.CanRefund
	default:
		return false
	}
}

// IsCreator reports whether actor created the campaign. Addresses compare on
// their bytes, so checksum casing never matters.
func IsCreator(v View, actor *common.Address) bool {
	return actor != nil && *actor == v.Creator
}

// Permissions evaluates the action set for actor, who has donated donation to
// the campaign. A nil actor stands for a read-only session.
func Permissions(v View, actor *common.Address, donation amount.Amount) ActionSet {
	return Evaluate(v, donation, IsCreator(v, actor))
}

// Evaluate computes the action set from an already resolved creator flag.
func Evaluate(v View, donation amount.Amount, isCreator bool) ActionSet {
	open := !v.Withdrawn && !v.Cancelled
	return ActionSet{
		// overfunding past the goal is permitted
		CanDonate:   !v.Expired && open,
		CanWithdraw: isCreator && v.GoalMet && open,
		CanCancel:   isCreator && open,
		CanRefund:   !donation.IsZero() && (v.Cancelled || (v.Expired && !v.GoalMet)),
	}
}

// FeeSplit divides total into the platform fee and the creator's net payout:
// fee = floor(total * feeBps / 10000), net = total - fee.
func FeeSplit(total amount.Amount, feeBps uint16) (fee, net amount.Amount, err error) {
	if feeBps > MaxFeeBps {
		return amount.Amount{}, amount.Amount{}, fmt.Errorf("campaign: fee %d bps exceeds %d", feeBps, MaxFeeBps)
	}
	fee, ok := total.MulDiv(uint64(feeBps), MaxFeeBps)
	if !ok {
		return amount.Amount{}, amount.Amount{}, fmt.Errorf("campaign: fee overflow")
	}
	net, ok = total.Sub(fee)
	if !ok {
		return amount.Amount{}, amount.Amount{}, fmt.Errorf("campaign: fee exceeds total")
	}
	return fee, net, nil
}

// WithdrawalPreview is the fee breakdown shown before a creator withdraws.
type WithdrawalPreview struct {
	FeeBps uint16        `json:"fee_bps"`
	Fee    amount.Amount `json:"fee"`
	Net    amount.Amount `json:"net"`
}

// PreviewWithdrawal computes the fee split for the campaign's current total.
func PreviewWithdrawal(v View) (WithdrawalPreview, error) {
	fee, net, err := FeeSplit(v.TotalRaised, v.FeeBps)
	if err != nil {
		return WithdrawalPreview{}, err
	}
	return WithdrawalPreview{FeeBps: v.FeeBps, Fee: fee, Net: net}, nil
}

package htlc

import "github.com/ethereum/go-ethereum/crypto"

// RedeemLogTopic and RefundLogTopic are the first-topic values the detector
// matches against account-based chain logs. Plain constants: no runtime
// initialization order concern, these are compile-time-fixed event
// signatures.
var (
	RedeemLogTopic = crypto.Keccak256Hash([]byte("Redeemed()"))
	RefundLogTopic = crypto.Keccak256Hash([]byte("Refunded()"))
)

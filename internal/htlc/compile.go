package htlc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Placeholder values substituted out of the fixed assembly template. Each
// is sized to match the field it stands in for, so a byte-for-byte search
// and replace on the hex text is unambiguous.
const (
	expiryPlaceholder        = "20000002"
	redeemAddressPlaceholder = "3000000000000000000000000000000000000003"
	refundAddressPlaceholder = "4000000000000000000000000000000000000004"
	secretHashPlaceholder    = "1000000000000000000000000000000000000000000000000000000000000001"

	contractStartPlaceholder  = "1001"
	contractLengthPlaceholder = "2002"
)

// contractCodeTemplate is the runtime bytecode deployed for every
// account-based HTLC: check the caller supplies the pre-image of
// secretHashPlaceholder before expiryPlaceholder, pay redeemAddressPlaceholder;
// otherwise, after expiry, pay refundAddressPlaceholder.
const contractCodeTemplate = "" +
	"7f" + secretHashPlaceholder +
	"368114601557600080fd5b" +
	"73" + redeemAddressPlaceholder +
	"6352a2f410" +
	"73" + refundAddressPlaceholder +
	"6338af3caa" +
	"63" + expiryPlaceholder +
	"4211"

// deployHeaderTemplate is prefixed to contractCodeTemplate at deploy time.
// It copies the runtime code out of the constructor's own code (CODECOPY)
// and returns it, the standard Solidity constructor shape: PUSH2 <len> DUP1
// PUSH2 <offset> PUSH1 0 CODECOPY PUSH1 0 RETURN.
const deployHeaderTemplate = "" +
	"61" + contractLengthPlaceholder +
	"80" +
	"61" + contractStartPlaceholder +
	"6000396000f3"

// CompileParams is the subset of HtlcParams the bytecode compiler needs:
// the four fields that get burned into the fixed template.
type CompileParams struct {
	Expiry        uint32 // Unix timestamp after which refund_address may reclaim
	RedeemAddress [20]byte
	RefundAddress [20]byte
	SecretHash    [32]byte
}

// compileTemplateToHex fills in the deploy header's own length and the
// runtime code's length, then concatenates header and runtime code. This
// step does not depend on the swap's params, only on the fixed templates.
func compileTemplateToHex() string {
	codeLength := len(contractCodeTemplate) / 2
	headerLength := len(deployHeaderTemplate) / 2

	codeLengthHex := fmt.Sprintf("%04x", codeLength)
	headerLengthHex := fmt.Sprintf("%04x", headerLength)

	header := strings.NewReplacer(
		contractStartPlaceholder, headerLengthHex,
		contractLengthPlaceholder, codeLengthHex,
	).Replace(deployHeaderTemplate)

	return header + contractCodeTemplate
}

// CompileHTLC substitutes params into the fixed assembly template and
// returns the deployment bytecode, a pure function of its input: identical
// params always produce byte-identical output, and no placeholder string
// survives the substitution.
func CompileHTLC(p CompileParams) []byte {
	expiryHex := fmt.Sprintf("%08x", p.Expiry)
	redeemHex := hex.EncodeToString(p.RedeemAddress[:])
	refundHex := hex.EncodeToString(p.RefundAddress[:])
	secretHashHex := hex.EncodeToString(p.SecretHash[:])

	contractHex := strings.NewReplacer(
		expiryPlaceholder, expiryHex,
		redeemAddressPlaceholder, redeemHex,
		refundAddressPlaceholder, refundHex,
		secretHashPlaceholder, secretHashHex,
	).Replace(compileTemplateToHex())

	code, err := hex.DecodeString(contractHex)
	if err != nil {
		// The template and every substituted value are fixed-width hex;
		// a decode failure here means the template itself is malformed.
		panic(fmt.Sprintf("htlc: compiled contract is not valid hex: %v", err))
	}
	return code
}

// DeploymentGasLimit budgets gas for deploying the compiled contract:
// a fixed base cost plus a per-byte cost for the deployment transaction's
// calldata.
func DeploymentGasLimit(compiled []byte) uint64 {
	const base = 75_000
	const perByte = 200
	return base + uint64(len(compiled))*perByte
}

// RedeemGasLimit is the gas limit budgeted for a redeem (or refund)
// transaction against a deployed HTLC contract.
const RedeemGasLimit = 100_000

// Package htlc builds and parses the chain-specific artifacts of an HTLC:
// the UTXO P2WSH script and witness stacks, and the account-based contract
// bytecode, both driven by the same four parameters (expiry, redeem
// identity, refund identity, secret hash).
package htlc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/pkg/helpers"
)

// UTXOScript contains everything needed to fund, claim, and refund a
// Bitcoin-family HTLC output.
type UTXOScript struct {
	Script     []byte
	Address    string
	ScriptHash []byte

	SecretHash     []byte
	ReceiverPubKey []byte // redeem identity: claims with the secret
	SenderPubKey   []byte // refund identity: reclaims after the CSV delay
	RelativeDelay  uint32 // CSV blocks, mirrors HtlcParams.Expiry on UTXO chains
}

// BuildScript assembles the HTLC redeem script:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    <receiver_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <relative_delay> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <sender_pubkey> OP_CHECKSIG
//	OP_ENDIF
//
// The IF branch is the redeem path (secret plus receiver signature); the
// ELSE branch is the refund path (sender signature after the CSV delay).
func BuildScript(secretHash, receiverPubKey, senderPubKey []byte, relativeDelay uint32) ([]byte, error) {
	if len(secretHash) != 32 {
		return nil, fmt.Errorf("htlc: secret hash must be 32 bytes, got %d", len(secretHash))
	}
	if len(receiverPubKey) != 33 {
		return nil, fmt.Errorf("htlc: receiver pubkey must be 33 bytes (compressed), got %d", len(receiverPubKey))
	}
	if len(senderPubKey) != 33 {
		return nil, fmt.Errorf("htlc: sender pubkey must be 33 bytes (compressed), got %d", len(senderPubKey))
	}
	if relativeDelay == 0 {
		return nil, fmt.Errorf("htlc: relative delay must be greater than 0")
	}
	if relativeDelay > 0xFFFF {
		return nil, fmt.Errorf("htlc: relative delay exceeds maximum CSV value (65535)")
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(receiverPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(relativeDelay))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(senderPubKey)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// BuildUTXOScript builds the full script plus its derived P2WSH address for
// the given ledger kind.
func BuildUTXOScript(secretHash []byte, receiverPubKey, senderPubKey *btcec.PublicKey, relativeDelay uint32, kind chain.Kind) (*UTXOScript, error) {
	receiverBytes := receiverPubKey.SerializeCompressed()
	senderBytes := senderPubKey.SerializeCompressed()

	script, err := BuildScript(secretHash, receiverBytes, senderBytes, relativeDelay)
	if err != nil {
		return nil, err
	}

	scriptHash := sha256.Sum256(script)

	params, err := chainParamsFor(kind)
	if err != nil {
		return nil, err
	}

	address, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return nil, fmt.Errorf("htlc: deriving P2WSH address: %w", err)
	}

	return &UTXOScript{
		Script:         script,
		Address:        address.EncodeAddress(),
		ScriptHash:     scriptHash[:],
		SecretHash:     secretHash,
		ReceiverPubKey: receiverBytes,
		SenderPubKey:   senderBytes,
		RelativeDelay:  relativeDelay,
	}, nil
}

// BuildClaimWitness assembles the witness stack that spends the HTLC via
// its redeem branch.
//
//	<signature>
//	<secret>
//	<1>       (selects OP_IF)
//	<script>
func BuildClaimWitness(signature, secret, script []byte) [][]byte {
	return [][]byte{
		signature,
		secret,
		{0x01},
		script,
	}
}

// BuildRefundWitness assembles the witness stack that spends the HTLC via
// its refund branch.
//
//	<signature>
//	<>        (selects OP_ELSE)
//	<script>
func BuildRefundWitness(signature, script []byte) [][]byte {
	return [][]byte{
		signature,
		{},
		script,
	}
}

// P2WSHScriptPubKey returns the scriptPubKey (OP_0 <script-hash>) the
// funding transaction must pay into.
func P2WSHScriptPubKey(script []byte) []byte {
	scriptHash := sha256.Sum256(script)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	scriptPubKey, _ := builder.Script()
	return scriptPubKey
}

// GenerateSecret returns a fresh cryptographically random 32-byte secret
// and its SHA-256 hash. Used by tests; Alice derives hers
// deterministically via the secret package instead.
func GenerateSecret() (secret, secretHash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(32)
	if err != nil {
		return nil, nil, fmt.Errorf("htlc: generating secret: %w", err)
	}
	h := sha256.Sum256(secret)
	return secret, h[:], nil
}

// VerifySecret reports whether secret hashes to expectedHash.
func VerifySecret(secret, expectedHash []byte) bool {
	if len(secret) != 32 || len(expectedHash) != 32 {
		return false
	}
	actual := sha256.Sum256(secret)
	return helpers.ConstantTimeCompare(actual[:], expectedHash)
}

func chainParamsFor(kind chain.Kind) (*chaincfg.Params, error) {
	if kind.Family != chain.FamilyBitcoin {
		return nil, fmt.Errorf("htlc: %s is not a UTXO ledger", kind)
	}
	switch kind.Network {
	case chain.Mainnet:
		return &chaincfg.MainNetParams, nil
	case chain.Testnet:
		return &chaincfg.TestNet3Params, nil
	case chain.Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("htlc: unsupported network %s", kind.Network)
	}
}

// AddressFromScript derives the P2WSH address for an already-built script,
// used when reconstructing the funding address from parameters alone
// (the detector builds the expected script, not the reverse).
func AddressFromScript(script []byte, kind chain.Kind) (string, error) {
	params, err := chainParamsFor(kind)
	if err != nil {
		return "", err
	}
	scriptHash := sha256.Sum256(script)
	address, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return "", fmt.Errorf("htlc: deriving P2WSH address: %w", err)
	}
	return address.EncodeAddress(), nil
}

// ParseScript extracts the four HTLC parameters back out of a redeem
// script built by BuildScript. The UTXO event detector does not call it;
// it matches funding outputs by P2WSHScriptPubKey instead.
func ParseScript(script []byte) (secretHash, receiverPubKey, senderPubKey []byte, relativeDelay uint32, err error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_IF {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_IF")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_SHA256 {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_SHA256")
	}
	if !tokenizer.Next() {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected secret hash")
	}
	secretHash = tokenizer.Data()
	if len(secretHash) != 32 {
		return nil, nil, nil, 0, fmt.Errorf("htlc: secret hash must be 32 bytes")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_EQUALVERIFY {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_EQUALVERIFY")
	}
	if !tokenizer.Next() {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected receiver pubkey")
	}
	receiverPubKey = tokenizer.Data()
	if len(receiverPubKey) != 33 {
		return nil, nil, nil, 0, fmt.Errorf("htlc: receiver pubkey must be 33 bytes")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_CHECKSIG")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_ELSE {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_ELSE")
	}

	if !tokenizer.Next() {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected relative delay")
	}
	op := tokenizer.Opcode()
	if txscript.IsSmallInt(op) {
		relativeDelay = uint32(txscript.AsSmallInt(op))
	} else {
		data := tokenizer.Data()
		if len(data) == 0 {
			return nil, nil, nil, 0, fmt.Errorf("htlc: invalid relative delay push")
		}
		for i := 0; i < len(data); i++ {
			relativeDelay |= uint32(data[i]) << (8 * i)
		}
	}

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSEQUENCEVERIFY {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_CHECKSEQUENCEVERIFY")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_DROP {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_DROP")
	}
	if !tokenizer.Next() {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected sender pubkey")
	}
	senderPubKey = tokenizer.Data()
	if len(senderPubKey) != 33 {
		return nil, nil, nil, 0, fmt.Errorf("htlc: sender pubkey must be 33 bytes")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_CHECKSIG")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_ENDIF {
		return nil, nil, nil, 0, fmt.Errorf("htlc: expected OP_ENDIF")
	}

	return secretHash, receiverPubKey, senderPubKey, relativeDelay, nil
}

// Hex returns the script as a hex string, for logging and wire messages.
func (s *UTXOScript) Hex() string {
	return hex.EncodeToString(s.Script)
}

package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureTypeEIP712 is the trailing byte of a 0x v2 typed-data signature.
const SignatureTypeEIP712 byte = 0x02

// erc20ProxyID is bytes4(keccak256("ERC20Token(address)")).
var erc20ProxyID = []byte{0xf4, 0x72, 0x61, 0xb0}

// OrderDomain is the EIP-712 domain of the 0x v2 exchange. v2 predates
// chainId in the domain, so only the exchange address separates deployments.
type OrderDomain struct {
	Name              string
	Version           string
	VerifyingContract common.Address
}

func ZeroExDomain(exchange common.Address) OrderDomain {
	return OrderDomain{Name: "0x Protocol", Version: "2", VerifyingContract: exchange}
}

// ZeroExOrder is a 0x v2 limit order. Amounts are token base units.
type ZeroExOrder struct {
	MakerAddress          common.Address
	TakerAddress          common.Address
	FeeRecipientAddress   common.Address
	SenderAddress         common.Address
	MakerAssetAmount      *big.Int
	TakerAssetAmount      *big.Int
	MakerFee              *big.Int
	TakerFee              *big.Int
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
	MakerAssetData        []byte
	TakerAssetData        []byte
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "makerAddress", Type: "address"},
		{Name: "takerAddress", Type: "address"},
		{Name: "feeRecipientAddress", Type: "address"},
		{Name: "senderAddress", Type: "address"},
		{Name: "makerAssetAmount", Type: "uint256"},
		{Name: "takerAssetAmount", Type: "uint256"},
		{Name: "makerFee", Type: "uint256"},
		{Name: "takerFee", Type: "uint256"},
		{Name: "expirationTimeSeconds", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
		{Name: "makerAssetData", Type: "bytes"},
		{Name: "takerAssetData", Type: "bytes"},
	},
}

// EIP712Signer hashes and signs 0x orders for one exchange domain.
type EIP712Signer struct {
	domain OrderDomain
}

func NewEIP712Signer(domain OrderDomain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() OrderDomain { return e.domain }

func (e *EIP712Signer) typedData(o *ZeroExOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"makerAddress":          o.MakerAddress.Hex(),
			"takerAddress":          o.TakerAddress.Hex(),
			"feeRecipientAddress":   o.FeeRecipientAddress.Hex(),
			"senderAddress":         o.SenderAddress.Hex(),
			"makerAssetAmount":      bigString(o.MakerAssetAmount),
			"takerAssetAmount":      bigString(o.TakerAssetAmount),
			"makerFee":              bigString(o.MakerFee),
			"takerFee":              bigString(o.TakerFee),
			"expirationTimeSeconds": bigString(o.ExpirationTimeSeconds),
			"salt":                  bigString(o.Salt),
			"makerAssetData":        hexutil.Encode(o.MakerAssetData),
			"takerAssetData":        hexutil.Encode(o.TakerAssetData),
		},
	}
}

// HashOrder returns the 0x order hash, which is also the digest signed.
func (e *EIP712Signer) HashOrder(o *ZeroExOrder) (common.Hash, error) {
	td := e.typedData(o)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	orderHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || orderHash)
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, orderHash...)
	return crypto.Keccak256Hash(raw), nil
}

// SignOrder returns the order hash and its signature in the exchange's
// layout: v || r || s || signatureType.
func (e *EIP712Signer) SignOrder(signer *Signer, o *ZeroExOrder) (common.Hash, []byte, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Hash{}, nil, err
	}
	sig, err := signer.Sign(hash.Bytes())
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return hash, ToZeroExSignature(sig), nil
}

// RecoverOrderSigner recovers the address behind a 0x EIP-712 signature.
func (e *EIP712Signer) RecoverOrderSigner(o *ZeroExOrder, signature []byte) (common.Address, error) {
	sig, err := FromZeroExSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash.Bytes(), sig)
}

// VerifyOrderSignature reports whether the maker signed the order.
func (e *EIP712Signer) VerifyOrderSignature(o *ZeroExOrder, signature []byte) (bool, error) {
	addr, err := e.RecoverOrderSigner(o, signature)
	if err != nil {
		return false, err
	}
	return addr == o.MakerAddress, nil
}

// ToZeroExSignature converts a [R || S || V] signature with V in {0,1}.
func ToZeroExSignature(sig []byte) []byte {
	out := make([]byte, 66)
	out[0] = sig[64] + 27
	copy(out[1:65], sig[:64])
	out[65] = SignatureTypeEIP712
	return out
}

// FromZeroExSignature converts back to [R || S || V] with V in {0,1}.
func FromZeroExSignature(sig []byte) ([]byte, error) {
	if len(sig) != 66 {
		return nil, fmt.Errorf("invalid 0x signature length: %d", len(sig))
	}
	if sig[65] != SignatureTypeEIP712 {
		return nil, fmt.Errorf("unsupported signature type: %d", sig[65])
	}
	if sig[0] != 27 && sig[0] != 28 {
		return nil, fmt.Errorf("invalid recovery id: %d", sig[0])
	}
	out := make([]byte, 65)
	copy(out[:64], sig[1:65])
	out[64] = sig[0] - 27
	return out, nil
}

// ERC20AssetData encodes token as 0x ERC20 proxy asset data.
func ERC20AssetData(token common.Address) []byte {
	out := make([]byte, 0, 36)
	out = append(out, erc20ProxyID...)
	return append(out, common.LeftPadBytes(token.Bytes(), 32)...)
}

// DecodeERC20AssetData is the inverse of ERC20AssetData.
func DecodeERC20AssetData(data []byte) (common.Address, error) {
	if len(data) != 36 || !bytes.Equal(data[:4], erc20ProxyID) {
		return common.Address{}, fmt.Errorf("not ERC20 asset data: %s", hexutil.Encode(data))
	}
	return common.BytesToAddress(data[4:]), nil
}

// OrderToJSON renders the order as eth_signTypedData_v4 input, for signing
// in a wallet instead of with a local key.
func (e *EIP712Signer) OrderToJSON(o *ZeroExOrder) (string, error) {
	td := e.typedData(o)
	out, err := json.MarshalIndent(map[string]interface{}{
		"types":       td.Types,
		"primaryType": td.PrimaryType,
		"domain": map[string]string{
			"name":              td.Domain.Name,
			"version":           td.Domain.Version,
			"verifyingContract": td.Domain.VerifyingContract,
		},
		"message": td.Message,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/params"
	"github.com/uhyunpark/tradeform/pkg/crypto"
	"github.com/uhyunpark/tradeform/pkg/matching"
	"github.com/uhyunpark/tradeform/pkg/relay"
)

// sign-order builds the 0x order the matching engine would push for one
// allocation, signs it and prints the relay payload. With -post it is sent.
func main() {
	cfg := params.LoadFromEnv("")

	sideFlag := flag.String("side", "buy", "trade side: buy or sell ZRX")
	qtyFlag := flag.String("qty", "10", "ZRX quantity")
	quoteFlag := flag.String("quote", "0.01", "WETH amount for the quantity")
	takerFlag := flag.String("taker", cfg.Matching.LastResortTaker, "counterparty address")
	post := flag.Bool("post", false, "post the signed order to the relay")
	flag.Parse()

	side, err := matching.ParseSide(*sideFlag)
	if err != nil {
		fail("side", err)
	}
	qty, err := decimal.NewFromString(*qtyFlag)
	if err != nil {
		fail("qty", err)
	}
	quote, err := decimal.NewFromString(*quoteFlag)
	if err != nil {
		fail("quote", err)
	}
	if err := crypto.ValidateAddress(*takerFlag); err != nil {
		fail("taker", err)
	}

	// Step 1: Load or generate key
	var signer *crypto.Signer
	if cfg.Chain.PrivateKeyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(cfg.Chain.PrivateKeyHex)
	} else {
		fmt.Println("SIGNER_PRIVATE_KEY not set, generating a throwaway key...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fail("key", err)
	}
	fmt.Printf("Maker: %s\n\n", signer.Address().Hex())

	// Step 2: Build the order for the allocation
	exchange := common.HexToAddress(cfg.Matching.Exchange)
	allocator := matching.NewOrderAllocator(matching.AllocatorConfig{
		Self:     signer.Address(),
		Exchange: exchange,
		WETH:     common.HexToAddress(cfg.Matching.WETHToken),
		ZRX:      common.HexToAddress(cfg.Matching.ZRXToken),
		Decimals: cfg.Matching.Decimals,
		Expiry:   cfg.Matching.OrderExpiry,
	})
	order, err := allocator.BuildOrder(side, matching.Allocation{
		Qty:          qty,
		QuoteQty:     quote,
		Counterparty: common.HexToAddress(*takerFlag),
	})
	if err != nil {
		fail("build order", err)
	}

	eip712 := crypto.NewEIP712Signer(crypto.ZeroExDomain(exchange))
	orderJSON, err := eip712.OrderToJSON(order)
	if err != nil {
		fail("order json", err)
	}
	fmt.Println("Order:")
	fmt.Println(orderJSON)
	fmt.Println()

	// Step 3: Sign with EIP-712
	hash, sig, err := eip712.SignOrder(signer, order)
	if err != nil {
		fail("sign", err)
	}
	fmt.Printf("Order hash: %s\n", hash.Hex())
	fmt.Printf("Signature:  0x%x\n\n", sig)

	// Step 4: Verify
	recovered, err := eip712.RecoverOrderSigner(order, sig)
	if err != nil {
		fail("verify", err)
	}
	if recovered != signer.Address() {
		fmt.Printf("✗ Signature INVALID (recovered %s)\n", recovered.Hex())
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Println()

	// Step 5: Relay payload
	signed := relay.NewSignedOrder(order, exchange, sig)
	payload, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Printf("POST %s/v2/orders\n", cfg.Matching.RelayURL)
	fmt.Println(string(payload))

	if !*post {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Provider.Timeout+5*time.Second)
	defer cancel()
	if err := relay.NewClient(cfg.Matching.RelayURL, cfg.Provider.Timeout, nil).PostOrder(ctx, signed); err != nil {
		fail("post", err)
	}
	fmt.Println("\n✓ Order accepted by relay")
}

func fail(step string, err error) {
	fmt.Printf("Error (%s): %v\n", step, err)
	os.Exit(1)
}

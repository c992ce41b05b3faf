// main.go - Flicknest Wallet Service entrypoint.
// Starts the wallet HTTP service on port 8092 (default).
package main

import (
	"github.com/flicknest/flicknest/services/wallet"
)

func main() {
	wallet.StartWalletService()
}

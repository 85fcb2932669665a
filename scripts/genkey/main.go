// genkey generates an Ed25519 key pair for Kensa JWT signing.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey --dir data
//
// Point KENSA_JWT_PRIVATE_KEY and KENSA_JWT_PUBLIC_KEY at the written files.
// Without them the server generates ephemeral keys on every start, which
// invalidates all issued tokens on restart.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ashita-ai/kensa/internal/auth"
)

func main() {
	dir := pflag.StringP("dir", "d", "data", "directory to write the key pair to")
	pflag.Parse()

	privPath, pubPath, err := auth.WriteKeyPair(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
}

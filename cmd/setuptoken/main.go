// Command setuptoken prints a short-lived token for POST /api/admin/setup.
//
//	SETUP_SECRET=... go run ./cmd/setuptoken -ttl 10m
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"admin-session/internal/auth"
)

func main() {
	ttl := flag.Duration("ttl", auth.DefaultSetupTTL, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	secret := strings.TrimSpace(os.Getenv("SETUP_SECRET"))
	if secret == "" {
		fmt.Fprintln(os.Stderr, "missing required env: SETUP_SECRET")
		os.Exit(1)
	}

	token, err := auth.MintSetupToken(secret, *ttl, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

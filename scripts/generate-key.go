//go:build ignore

// generate-key prints a fresh ENCRYPTION_KEY and, optionally, a PBKDF2 salt for
// passphrase mode or a service token signed with JWT_SECRET for local development:
//
//	go run scripts/generate-key.go
//	go run scripts/generate-key.go -salt
//	JWT_SECRET=... go run scripts/generate-key.go -token -org org-1 -scopes tools:read
package main

import (
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/connector-hub/connector-hub/internal/auth"
	"github.com/connector-hub/connector-hub/internal/crypto"
)

func main() {
	withSalt := flag.Bool("salt", false, "also print a salt for CONNECTOR_HUB_VAULT_SALT")
	withToken := flag.Bool("token", false, "also mint a service JWT signed with $JWT_SECRET")
	subject := flag.String("subject", "local-dev", "token subject")
	org := flag.String("org", "", "organization to pin the token to (empty for any)")
	scopes := flag.String("scopes", string(auth.ScopeToolsRead), "comma-separated scopes")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Printf("ENCRYPTION_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Println("==========================================================")

	if *withSalt {
		salt, err := crypto.GenerateSalt(32)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("CONNECTOR_HUB_VAULT_SALT=%s\n", hex.EncodeToString(salt))
		fmt.Println("==========================================================")
	}

	if !*withToken {
		return
	}

	scopeList := strings.Split(*scopes, ",")
	if err := auth.ValidateScopes(scopeList); err != nil {
		log.Fatal(err)
	}
	issuer, err := auth.NewIssuer(os.Getenv("JWT_SECRET"), "connector-hub")
	if err != nil {
		log.Fatal(err)
	}
	token, err := issuer.Generate(*subject, *org, scopeList, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Println("==========================================================")
}

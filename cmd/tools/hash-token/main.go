// Command hash-token derives the stored hash for an API token so it can be
// placed in STREAMCAST_API_TOKEN_HASHES.
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"

	"streamcast/internal/api"
)

func main() {
	var (
		token    string
		generate bool
	)
	flag.StringVar(&token, "token", "", "token to hash (read from stdin when omitted)")
	flag.BoolVar(&generate, "generate", false, "generate a random token and print it alongside its hash")
	flag.Parse()

	if generate && token != "" {
		fatalf("--generate and --token are mutually exclusive")
	}

	switch {
	case generate:
		var buf [24]byte
		if _, err := rand.Read(buf[:]); err != nil {
			fatalf("generate token: %v", err)
		}
		token = base64.RawURLEncoding.EncodeToString(buf[:])
	case token == "":
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fatalf("read token from stdin: %v", err)
		}
		token = strings.TrimSpace(line)
	}

	if token == "" {
		fatalf("token must not be empty")
	}

	hash, err := api.HashToken(token)
	if err != nil {
		fatalf("hash token: %v", err)
	}

	if generate {
		fmt.Printf("token: %s\n", token)
	}
	fmt.Println(hash)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

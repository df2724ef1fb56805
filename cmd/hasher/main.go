// Command hasher prints the argon2id hash of a password, for manual
// password resets straight in the database.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/technosupport/ts-lpr/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hasher <password>")
		os.Exit(1)
	}
	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		log.Fatalf("[ERROR] hash password: %v", err)
	}
	fmt.Println(hash)
}

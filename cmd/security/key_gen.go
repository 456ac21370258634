// cmd/security/key_gen.go
package main

import (
	"flag"
	"fmt"
	"log"

	"deposit-service/internal/hdwallet"
	"deposit-service/internal/security"
)

func main() {
	seal := flag.Bool("seal", false, "also print a master key and the sealed phrase")
	flag.Parse()

	mnemonic, err := hdwallet.NewMnemonic()
	if err != nil {
		log.Fatal(err)
	}
	deriver, err := hdwallet.NewDeriver(mnemonic)
	if err != nil {
		log.Fatal(err)
	}
	first, err := deriver.Address(0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==============================================")
	fmt.Println("Generated HD wallet mnemonic:")
	fmt.Println("==============================================")
	fmt.Println(mnemonic)
	fmt.Println("==============================================")
	fmt.Printf("First deposit address (%s): %s\n", deriver.Path(0), first)

	if !*seal {
		fmt.Println("Add this to your .env file as:")
		fmt.Printf("HD_WALLET_PHRASE=\"%s\"\n", mnemonic)
	} else {
		key, err := security.GenerateMasterKey()
		if err != nil {
			log.Fatal(err)
		}
		sealer, err := security.NewSealer(key)
		if err != nil {
			log.Fatal(err)
		}
		sealed, err := sealer.Seal(mnemonic)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("Add these to your .env file as:")
		fmt.Println("WALLET_MASTER_KEY=" + key)
		fmt.Println("HD_WALLET_PHRASE_SEALED=" + sealed)
	}

	fmt.Println("==============================================")
	fmt.Println("KEEP THE PHRASE OFFLINE. It controls every deposit address.")
	fmt.Println("DO NOT COMMIT THESE VALUES TO VERSION CONTROL.")
	fmt.Println("==============================================")
}

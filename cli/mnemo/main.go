package main

import (
	"os"

	"github.com/joho/godotenv"

	mnemocmder "github.com/papercomputeco/mnemo/cmd/mnemo"
)

func main() {
	// A .env in the working directory may carry MNEMO_ settings.
	_ = godotenv.Load()

	cmd := mnemocmder.NewMnemoCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

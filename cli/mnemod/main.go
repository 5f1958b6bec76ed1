package main

import (
	"os"

	"github.com/joho/godotenv"

	servecmder "github.com/papercomputeco/mnemo/cmd/mnemo/serve"
)

func main() {
	_ = godotenv.Load()

	cmd := servecmder.NewServeCmd()
	cmd.Use = "mnemod"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .mnemo/ directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

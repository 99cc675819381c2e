package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "votegate",
	Short: "Face verification gateway for campus e-voting",
	Long: `Votegate verifies voter and admin identity by face before ballots are
cast. It fronts a face embedding service, keeps verification sessions,
streams live status to the voting front-end, and seals every ballot into
a per-election hash chain.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

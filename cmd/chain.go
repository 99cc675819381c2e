package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"votegate/internal/config"
	"votegate/internal/votechain"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect and audit election ballot chains",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify <election-id>",
	Short: "Recompute every ballot seal and check the chain links",
	Args:  cobra.ExactArgs(1),
	RunE:  runChainVerify,
}

var chainShowCmd = &cobra.Command{
	Use:   "show <election-id>",
	Short: "Print the sealed ballots of an election in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runChainShow,
}

func init() {
	rootCmd.AddCommand(chainCmd)
	chainCmd.AddCommand(chainVerifyCmd)
	chainCmd.AddCommand(chainShowCmd)

	chainVerifyCmd.Flags().Bool("json", false, "Output as JSON")
	chainShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func openLedger() (*votechain.Ledger, error) {
	cfg := config.Load()
	ledger, err := votechain.NewLedger(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening ballot ledger at %s: %w", cfg.Ledger.Path, err)
	}
	return ledger, nil
}

func runChainVerify(cmd *cobra.Command, args []string) error {
	electionID := args[0]
	jsonOutput := mustGetBool(cmd, "json")

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	report, err := ledger.Verify(context.Background(), electionID)
	if err != nil {
		return fmt.Errorf("verifying election %s: %w", electionID, err)
	}

	if jsonOutput {
		return outputJSON(report)
	}

	fmt.Printf("Election:  %s\n", report.ElectionID)
	fmt.Printf("Ballots:   %d\n", report.Length)
	if report.OK {
		fmt.Println("Result:    chain intact")
		return nil
	}

	fmt.Println("Result:    CHAIN BROKEN")
	fmt.Printf("Bad seals: %v\n", report.BadSeqs)
	return fmt.Errorf("election %s failed verification", electionID)
}

func runChainShow(cmd *cobra.Command, args []string) error {
	electionID := args[0]
	jsonOutput := mustGetBool(cmd, "json")

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	ballots, err := ledger.Chain(context.Background(), electionID)
	if err != nil {
		return fmt.Errorf("reading chain for election %s: %w", electionID, err)
	}

	if jsonOutput {
		return outputJSON(ballots)
	}

	if len(ballots) == 0 {
		fmt.Printf("No ballots recorded for election %s\n", electionID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tVOTER\tCHOICE\tCAST AT\tSEAL")
	for _, b := range ballots {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			b.Seq, b.VoterID, b.Choice, b.CastAt.Format("2006-01-02 15:04:05"), b.SealHash[:12])
	}
	return w.Flush()
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/internal/auth"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a persistent JWT signing key pair",
	Long: `Writes an Ed25519 key pair for signing bearer tokens. Without one the
server generates an ephemeral pair on every start, which invalidates all
issued tokens on restart. Existing key files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		privPath, pubPath, err := auth.WriteKeyPair(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %s\nwrote %s\n\n", privPath, pubPath)
		fmt.Fprintf(out, "export TSUISEKI_JWT_PRIVATE_KEY=%s\n", privPath)
		fmt.Fprintf(out, "export TSUISEKI_JWT_PUBLIC_KEY=%s\n", pubPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
	genkeyCmd.Flags().String("dir", "data", "Directory to write the key files into")
}

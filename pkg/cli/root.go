package cli

import (
	"github.com/spf13/cobra"

	internalcli "github.com/SmitUplenchwar2687/pacer/internal/cli"
)

// NewRootCmd creates the public pacer root command for embedding.
func NewRootCmd() *cobra.Command {
	return internalcli.NewRootCmd()
}

package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root pacer command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pacer",
		Short: "Client-side rate limiting with server backoff and hard quotas",
		Long: `Pacer paces outbound API calls with a token bucket that honors server
Retry-After backoffs and named hard quotas per minute, hour, day, month
or year. Run it as a shared admin server, simulate and replay limiter
behavior on a virtual clock, or query Have I Been Pwned through it.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSimulateCmd(),
		newReplayCmd(),
		newGenerateCmd(),
		newHIBPCmd(),
	)

	return root
}

// Command whispers manages wildlife health events against the configured
// store and serves operational endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "whispers",
		Short:         "Wildlife health event store with aggregate consistency checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (yaml, json or toml); WHISPERS_* env overrides it")
	pf.BoolVar(&flags.trace, "trace", false, "write JSON trace spans to stderr")
	pf.Int64Var(&flags.requester.UserID, "user", 0, "requesting user id")
	pf.Int64Var(&flags.requester.OrganizationID, "org", 0, "requesting user's organization id")
	pf.StringVar(&flags.requester.Email, "email", "", "requesting user's email")
	pf.StringVar(&flags.role, "role", "contributor", "requesting user's role (admin, org_admin, org_manager, contributor)")

	root.AddCommand(eventCmd(flags), checkCmd(flags), recomputeCmd(flags), archiveCmd(flags), serveCmd(flags))
	return root
}

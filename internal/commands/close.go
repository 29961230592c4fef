package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"settlement-reconciliation-engine/internal/app"
)

func newCloseCommand() *cobra.Command {
	var (
		org      string
		operator string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close the review window of a completed import session",
		Long: `Close marks a completed session as reviewed. It fails with REVIEW_INCOMPLETE
while any transaction of the session is still waiting for a decision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session ID %q: %w", args[0], err)
			}
			cfg, err := loadConfig("", "")
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, docs, cleanup, err := openStore(cmd.Context(), cfg, true, nil, log)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := app.NewService(cfg, store, docs, log)
			session, err := svc.CloseSession(cmd.Context(), org, id, operator)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), session)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "Operator closing the session (required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}

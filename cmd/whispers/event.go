package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"whispers/internal/core"
	"whispers/pkg/domain"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// mutationOutput is printed after every write.
type mutationOutput struct {
	Record   any                `json:"record,omitempty"`
	Warnings []domain.Violation `json:"warnings,omitempty"`
}

func eventCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create, inspect, update and delete events",
	}

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an event from a nested JSON payload",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			var payload core.EventPayload
			if err := readJSON(cmd, file, &payload); err != nil {
				return err
			}
			graph, res, err := a.service.CreateEvent(cmd.Context(), flags.Requester(), payload)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), mutationOutput{Record: graph, Warnings: res.Violations})
		}),
	}
	create.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an event with its locations, species, diagnoses and organizations",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			graph, err := a.service.GetEvent(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), graph)
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			events, err := a.service.ListEvents(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), events)
		}),
	}

	var updateFile string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Apply a JSON partial update to an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var u core.EventUpdate
			if err := readJSON(cmd, updateFile, &u); err != nil {
				return err
			}
			event, res, err := a.service.UpdateEvent(cmd.Context(), flags.Requester(), id, u)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), mutationOutput{Record: event, Warnings: res.Violations})
		}),
	}
	update.Flags().StringVarP(&updateFile, "file", "f", "-", "update file, - for stdin")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an event and archive its graph",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := a.service.DeleteEvent(cmd.Context(), flags.Requester(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), mutationOutput{Warnings: res.Violations})
		}),
	}

	cmd.AddCommand(create, show, list, update, del)
	return cmd
}

func checkCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Evaluate the consistency invariants over every stored event",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			violations, err := a.service.CheckInvariants(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), violations); err != nil {
				return err
			}
			blocking := 0
			for _, v := range violations {
				if v.Severity == domain.SeverityBlock {
					blocking++
				}
			}
			if blocking > 0 {
				return fmt.Errorf("%d blocking violation(s) found", blocking)
			}
			return nil
		}),
	}
}

func recomputeCmd(flags *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recompute [id]",
		Short: "Re-run priorities, diagnosis sync and aggregates for one or all events",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either an event id or --all")
			}
			if all {
				ids, err := a.service.RecomputeAll(cmd.Context(), flags.Requester())
				if wErr := writeJSON(cmd.OutOrStdout(), map[string][]int64{"recomputed": ids}); wErr != nil && err == nil {
					err = wErr
				}
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			event, res, err := a.service.RecomputeEvent(cmd.Context(), flags.Requester(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), mutationOutput{Record: event, Warnings: res.Violations})
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "recompute every event")
	return cmd
}

func archiveCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived copies of deleted events",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <event-id>",
		Short: "List archived copies of an event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			infos, err := a.archiver.List(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), infos)
		}),
	}, &cobra.Command{
		Use:   "show <key>",
		Short: "Print one archived event graph",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			rec, err := a.archiver.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		}),
	})
	return cmd
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

var visitFlags struct {
	kind      string
	comment   string
	date      string
	files     []string
	recipient string
}

var visitCmd = &cobra.Command{
	Use:   "visit",
	Short: "Record or remove visits",
}

var visitCreateCmd = &cobra.Command{
	Use:   "create <objectID>",
	Short: "Record a planned or unplanned visit with photos or video",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		refs := ingestFiles(cmd, a, visitFlags.files)
		v, err := a.state.CreateVisit(cmd.Context(), args[0], domain.VisitInput{
			Type:    domain.VisitKind(visitFlags.kind),
			Comment: visitFlags.comment,
			Media:   refs,
			Date:    visitFlags.date,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s visit %s with %d file(s)\n", v.Type, v.ID, len(v.Photos))
		return nil
	}),
}

var visitDeleteCmd = &cobra.Command{
	Use:   "delete <objectID> <visitID>",
	Short: "Delete a visit (director only)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		return a.state.DeleteVisit(cmd.Context(), args[0], args[1])
	}),
}

var photoDeleteCmd = &cobra.Command{
	Use:   "photo-delete <objectID> <visitID> <index>",
	Short: "Remove one photo from a visit (director only)",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		idx, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid photo index %q", args[2])
		}
		return a.state.DeletePhoto(cmd.Context(), args[0], args[1], idx)
	}),
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Assign or complete tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <objectID> <description>",
	Short: "Assign a task and notify the recipients by SMS",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		v, err := a.state.CreateTask(cmd.Context(), args[0], domain.TaskInput{
			Description: args[1],
			Recipient:   domain.Role(visitFlags.recipient),
			Date:        visitFlags.date,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "task %s assigned to %s\n", v.ID, v.TaskRecipient)
		for _, n := range v.SmsNotifications {
			fmt.Fprintf(out, "  sms %s: %s\n", n.Phone, n.Status)
		}
		return nil
	}),
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <objectID> <visitID>",
	Short: "Complete a task with a comment and photos",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		refs := ingestFiles(cmd, a, visitFlags.files)
		v, err := a.state.CompleteTask(cmd.Context(), args[0], args[1], visitFlags.comment, refs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %s completed by %s\n", v.ID, v.TaskCompletedBy)
		return nil
	}),
}

var installDayCmd = &cobra.Command{
	Use:   "install-day <objectID>",
	Short: "Append a work day to an installation object",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		refs := ingestFiles(cmd, a, visitFlags.files)
		day, err := a.state.AddInstallationDay(cmd.Context(), args[0], visitFlags.comment, refs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "day %d recorded (%s)\n", day.DayNumber, day.Date)
		return nil
	}),
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Check and compress media files without saving a visit",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		refs := ingestFiles(cmd, a, args)
		for _, r := range refs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", shortRef(r), len(r))
		}
		return nil
	}),
}

func init() {
	visitCreateCmd.Flags().StringVar(&visitFlags.kind, "type", string(domain.VisitPlanned), "planned | unplanned")
	visitCreateCmd.Flags().StringVar(&visitFlags.date, "date", "", "visit date (YYYY-MM-DD), today when empty")
	taskCreateCmd.Flags().StringVar(&visitFlags.recipient, "recipient", string(domain.RoleTechnician), "technician | director")
	taskCreateCmd.Flags().StringVar(&visitFlags.date, "date", "", "task date (YYYY-MM-DD), today when empty")
	for _, c := range []*cobra.Command{visitCreateCmd, taskCompleteCmd, installDayCmd} {
		c.Flags().StringVar(&visitFlags.comment, "comment", "", "comment")
		c.Flags().StringArrayVarP(&visitFlags.files, "file", "f", nil, "photo or video to attach (repeatable)")
	}
	visitCmd.AddCommand(visitCreateCmd, visitDeleteCmd, photoDeleteCmd)
	taskCmd.AddCommand(taskCreateCmd, taskCompleteCmd)
	rootCmd.AddCommand(visitCmd, taskCmd, installDayCmd, ingestCmd)
}

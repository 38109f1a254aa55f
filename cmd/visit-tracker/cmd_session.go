package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Log in with a roster account",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		session, err := a.state.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", session.Name, session.Role)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the saved session",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		return a.state.Logout(cmd.Context())
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, pending changes and local storage usage",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if s := a.state.Session(); s != nil {
			fmt.Fprintf(out, "session:   %s (%s)\n", s.Name, s.Role)
		} else {
			fmt.Fprintln(out, "session:   not logged in")
		}
		pending, err := a.store.ListPending(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pending:   %d\n", len(pending))
		if t, err := a.store.LastSync(ctx); err == nil && !t.IsZero() {
			fmt.Fprintf(out, "last sync: %s\n", t.Local().Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintln(out, "last sync: never")
		}
		if used, err := a.quota.Used(ctx); err == nil {
			fmt.Fprintf(out, "storage:   %d / %d bytes\n", used, a.cfg.Store.QuotaBytes)
		}
		if a.state.OutOfSync() {
			fmt.Fprintln(out, "warning: local copy is out of sync, run download")
		}
		return nil
	}),
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the roster (director only)",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster accounts",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tROLE\tPHONE")
		for _, u := range a.state.Users() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.FullName, u.Role, u.Phone)
		}
		return tw.Flush()
	}),
}

var userInput struct {
	password string
	fullName string
	phone    string
	role     string
}

func userFromFlags() (service.UserInput, error) {
	role, err := domain.ParseRole(userInput.role)
	if err != nil {
		return service.UserInput{}, err
	}
	return service.UserInput{
		Password: userInput.password,
		FullName: userInput.fullName,
		Phone:    userInput.phone,
		Role:     role,
	}, nil
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a roster account",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		in, err := userFromFlags()
		if err != nil {
			return err
		}
		in.Username = args[0]
		u, err := a.state.AddUser(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", u.Username, u.ID)
		return nil
	}),
}

var userUpdateCmd = &cobra.Command{
	Use:   "update <id> <username>",
	Short: "Replace a roster account's fields",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		in, err := userFromFlags()
		if err != nil {
			return err
		}
		in.Username = args[1]
		_, err = a.state.UpdateUser(cmd.Context(), args[0], in)
		return err
	}),
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a roster account",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		return a.state.DeleteUser(cmd.Context(), args[0])
	}),
}

func init() {
	for _, c := range []*cobra.Command{userAddCmd, userUpdateCmd} {
		c.Flags().StringVar(&userInput.password, "password", "", "account password")
		c.Flags().StringVar(&userInput.fullName, "name", "", "full name")
		c.Flags().StringVar(&userInput.phone, "phone", "", "phone number for task SMS")
		c.Flags().StringVar(&userInput.role, "role", string(domain.RoleTechnician), "technician | director | supervisor")
	}
	userCmd.AddCommand(userListCmd, userAddCmd, userUpdateCmd, userDeleteCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, userCmd)
}

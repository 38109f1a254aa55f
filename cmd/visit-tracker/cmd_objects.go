package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
)

var objectsCmd = &cobra.Command{
	Use:   "objects [query]",
	Short: "List objects, filtered by name or address",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		query := strings.Join(args, " ")
		var role domain.Role
		if s := a.state.Session(); s != nil {
			role = s.Role
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tTYPE\tVISITS\t")
		for _, o := range a.state.ListObjects(query) {
			typ := o.ObjectType
			if typ == "" {
				typ = domain.ObjectRegular
			}
			mark := ""
			if o.HasOpenTaskFor(role) {
				mark = "open task"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", o.ID, o.Name, o.Address, typ, len(domain.History(&o)), mark)
		}
		return tw.Flush()
	}),
}

var historyCmd = &cobra.Command{
	Use:   "history <objectID>",
	Short: "Show an object's visits, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		visits, err := a.state.History(args[0])
		if err != nil {
			return err
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tDATE\tTYPE\tBY\tPHOTOS\tNOTE\tACTIONS")
		for i := range visits {
			v := &visits[i]
			note := v.Comment
			if v.Type == domain.VisitTask && note == "" {
				note = v.TaskDescription
			}
			actions := ""
			if c, err := a.state.Controls(args[0], v.ID); err == nil {
				actions = controlsLabel(c)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", v.ID, v.Date, domain.Badge(v), v.CreatedBy, len(v.Photos), note, actions)
		}
		return tw.Flush()
	}),
}

func controlsLabel(c domain.Controls) string {
	var parts []string
	if c.CanComplete {
		parts = append(parts, "complete")
	}
	if c.CanEdit {
		parts = append(parts, "edit")
	}
	if c.CanDelete {
		parts = append(parts, "delete")
	}
	if c.Locked {
		parts = append(parts, "protected")
	}
	return strings.Join(parts, ",")
}

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Create, edit or delete objects (director only)",
}

var objectFlags struct {
	address      string
	description  string
	contactName  string
	contactPhone string
	photo        string
	objectType   string
}

func objectFromFlags(cmd *cobra.Command, a *app, name string) (service.ObjectInput, error) {
	in := service.ObjectInput{
		Name:         name,
		Address:      objectFlags.address,
		Description:  objectFlags.description,
		ContactName:  objectFlags.contactName,
		ContactPhone: objectFlags.contactPhone,
		ObjectType:   domain.ObjectType(objectFlags.objectType),
	}
	if objectFlags.photo != "" {
		refs := ingestFiles(cmd, a, []string{objectFlags.photo})
		if len(refs) == 0 {
			return in, fmt.Errorf("object photo %s could not be imported", objectFlags.photo)
		}
		in.ObjectPhoto = refs[0]
	}
	return in, nil
}

var objectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an object",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		in, err := objectFromFlags(cmd, a, args[0])
		if err != nil {
			return err
		}
		obj, err := a.state.AddObject(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", obj.Name, obj.ID)
		return nil
	}),
}

var objectUpdateCmd = &cobra.Command{
	Use:   "update <id> <name>",
	Short: "Replace an object's own fields; visits are kept",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		in, err := objectFromFlags(cmd, a, args[1])
		if err != nil {
			return err
		}
		if in.ObjectPhoto == "" {
			// 未指定新照片时保留原照片
			if cur, err := a.state.Object(args[0]); err == nil {
				in.ObjectPhoto = cur.ObjectPhoto
			}
		}
		_, err = a.state.UpdateObject(cmd.Context(), args[0], in)
		return err
	}),
}

var objectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an object",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		return a.state.DeleteObject(cmd.Context(), args[0])
	}),
}

func init() {
	for _, c := range []*cobra.Command{objectAddCmd, objectUpdateCmd} {
		f := c.Flags()
		f.StringVar(&objectFlags.address, "address", "", "street address")
		f.StringVar(&objectFlags.description, "description", "", "free-form description")
		f.StringVar(&objectFlags.contactName, "contact-name", "", "on-site contact")
		f.StringVar(&objectFlags.contactPhone, "contact-phone", "", "on-site contact phone")
		f.StringVar(&objectFlags.photo, "photo", "", "path to the object photo")
		f.StringVar(&objectFlags.objectType, "type", string(domain.ObjectRegular), "regular | installation")
	}
	objectCmd.AddCommand(objectAddCmd, objectUpdateCmd, objectDeleteCmd)
	rootCmd.AddCommand(objectsCmd, historyCmd, objectCmd)
}

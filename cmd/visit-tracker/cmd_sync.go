package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	commonmqtt "github.com/pr-poehali-dev/emergency-visit-tracker/common/mqtt"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Replace the local copy with the server's data",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		res, err := a.coord.Download(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	}),
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Send local objects to the server one by one",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		res, err := a.coord.Upload(cmd.Context(), progressPrinter(cmd))
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	}),
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload local changes, then download the merged result",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		res, err := a.coord.FullSync(cmd.Context(), progressPrinter(cmd))
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	}),
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect changes waiting for upload",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending changes, oldest first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ops, err := a.store.ListPending(cmd.Context())
		if err != nil {
			return err
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tTYPE\tCREATED\tSIZE")
		for _, op := range ops {
			created := time.UnixMilli(op.Timestamp).Local().Format("2006-01-02 15:04:05")
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", op.ID, op.Type, created, len(op.Data))
		}
		return tw.Flush()
	}),
}

var pendingClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all pending changes",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		return a.store.ClearAllPending(cmd.Context())
	}),
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run scheduled sync in the foreground until interrupted",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ctx := cmd.Context()

		var sub service.Subscriber
		var topic string
		if a.cfg.MQTT.Enabled {
			mq, err := commonmqtt.NewClient(&a.cfg.MQTT, a.log)
			if err != nil {
				// 没有事件推送时仍按计划同步
				a.log.Warn("MQTT unavailable, running on schedule only", zap.Error(err))
			} else {
				defer mq.Disconnect()
				sub = mq
				topic = a.cfg.MQTT.Topic + service.ObjectsChangedSuffix
			}
		}

		agent := service.NewSyncAgent(a.coord, a.cfg.Agent.Schedule, sub, topic, a.log)
		if err := agent.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sync agent running (%s), press Ctrl+C to stop\n", a.cfg.Agent.Schedule)
		<-ctx.Done()
		agent.Stop()
		return nil
	}),
}

func init() {
	pendingCmd.AddCommand(pendingListCmd, pendingClearCmd)
	rootCmd.AddCommand(downloadCmd, uploadCmd, syncCmd, pendingCmd, agentCmd)
}

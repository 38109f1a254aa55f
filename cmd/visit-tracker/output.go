package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/media"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult 输出同步结果；失败时返回错误，让进程以非零状态退出
func printResult(cmd *cobra.Command, res service.SyncResult) error {
	out := cmd.OutOrStdout()
	switch res.Status {
	case service.StatusSuccess:
		fmt.Fprintf(out, "%s (objects: %d, users: %d)\n", res.Message, res.ObjectsCount, res.UsersCount)
		return nil
	case service.StatusPartial:
		fmt.Fprintf(out, "warning: %s\n", res.Message)
		return nil
	default:
		if res.FailedObject != "" {
			return fmt.Errorf("%s (object %q)", res.Message, res.FailedObject)
		}
		return fmt.Errorf("%s", res.Message)
	}
}

func progressPrinter(cmd *cobra.Command) service.ProgressFunc {
	w := cmd.ErrOrStderr()
	return func(index, total int, message string) {
		fmt.Fprintf(w, "[%d/%d] %s\n", index, total, message)
	}
}

// ingestFiles 导入本地文件，逐个报告失败，成功的引用照常返回
func ingestFiles(cmd *cobra.Command, a *app, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	files := make([]media.File, 0, len(paths))
	for _, p := range paths {
		files = append(files, media.FromPath(p))
	}
	res := a.pipeline.Ingest(cmd.Context(), files)
	for _, f := range res.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s\n", f.Message())
	}
	return res.Refs
}

// shortRef 嵌入的 data URI 太长，只显示前缀
func shortRef(ref string) string {
	if strings.HasPrefix(ref, "data:") && len(ref) > 40 {
		return ref[:40] + "..."
	}
	return ref
}

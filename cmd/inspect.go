package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Prints queue contents or record namespaces as JSON",
	}
	cmd.AddCommand(newInspectQueueCmd(), newInspectRecordsCmd())
	return cmd
}

func newInspectQueueCmd() *cobra.Command {
	var start, limit int64
	cmd := &cobra.Command{
		Use:   "queue <name>",
		Short: "Prints a window of a queue without leasing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			items, err := appInstance.Queues().List(cmd.Context(), args[0], start, start+limit-1)
			if err != nil {
				return fmt.Errorf("list queue: %w", err)
			}
			length, err := appInstance.Queues().Len(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("queue length: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"queue":  args[0],
				"length": length,
				"items":  items,
			})
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "index of the first item")
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum number of items")
	return cmd
}

func newInspectRecordsCmd() *cobra.Command {
	var key, field string
	cmd := &cobra.Command{
		Use:   "records <namespace>",
		Short: "Prints a record namespace, one key or one field of every value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records := appInstance.Records()
			ns := args[0]
			switch {
			case key != "":
				rec, found, err := records.Lookup(cmd.Context(), ns, key)
				if err != nil {
					return fmt.Errorf("lookup record: %w", err)
				}
				if !found {
					return fmt.Errorf("record %s/%s not found", ns, key)
				}
				return printJSON(cmd.OutOrStdout(), rec)
			case field != "":
				values, err := records.Get(cmd.Context(), ns, field)
				if err != nil {
					return fmt.Errorf("get field: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), values)
			default:
				all, err := records.GetAll(cmd.Context(), ns)
				if err != nil {
					return fmt.Errorf("get records: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), all)
			}
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "print a single record")
	cmd.Flags().StringVar(&field, "field", "", "project one top-level field out of every value")
	cmd.MarkFlagsMutuallyExclusive("key", "field")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

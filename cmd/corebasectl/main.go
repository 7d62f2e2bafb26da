// Command corebasectl is an operator client for a running corebased
// node: it dials the node's Unix socket and issues one request per
// invocation (spec §6 External interfaces). Grounded on
// platform/cmd/cli/main.go cobra root command structure.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kartikbazzad/corebase/internal/ipc"
	"github.com/spf13/cobra"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "corebasectl",
	Short: "Operator client for a corebase storage node",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/corebase.sock", "Path to the node's IPC socket")
	rootCmd.AddCommand(
		insertCmd(),
		updateCmd(),
		deleteCmd(),
		findCmd(),
		findByIDCmd(),
		explainCmd(),
		beginSnapshotCmd(),
		markerStatusCmd(),
		requestPromotionCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func call(req ipc.Request) (ipc.Response, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer client.Close()
	return client.Call(req)
}

func printResponse(resp ipc.Response) error {
	raw, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	if !resp.OK {
		return fmt.Errorf("operation failed: %s", resp.Error.Message)
	}
	return nil
}

func insertCmd() *cobra.Command {
	var collection, doc string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert one document into a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "insert", Collection: collection, Doc: json.RawMessage(doc)})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&doc, "doc", "", "Document body as JSON")
	cmd.MarkFlagRequired("collection")
	cmd.MarkFlagRequired("doc")
	return cmd
}

func updateCmd() *cobra.Command {
	var collection, doc string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace one document by its _id",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "update", Collection: collection, Doc: json.RawMessage(doc)})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&doc, "doc", "", "Full replacement document as JSON, including _id")
	cmd.MarkFlagRequired("collection")
	cmd.MarkFlagRequired("doc")
	return cmd
}

func deleteCmd() *cobra.Command {
	var collection, id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one document by its _id",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "delete", Collection: collection, ID: id})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&id, "id", "", "Document _id")
	cmd.MarkFlagRequired("collection")
	cmd.MarkFlagRequired("id")
	return cmd
}

func findCmd() *cobra.Command {
	var collection, filter string
	var limit int
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Run a filtered query through the planner",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.Request{Op: "find", Collection: collection, Limit: limit}
			if filter != "" {
				req.Filter = json.RawMessage(filter)
			}
			resp, err := call(req)
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&filter, "filter", "", "MongoDB-style JSON filter (default: match all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Row cap (0 = unbounded; requires an indexed equality)")
	cmd.MarkFlagRequired("collection")
	return cmd
}

func findByIDCmd() *cobra.Command {
	var collection, id string
	cmd := &cobra.Command{
		Use:   "find-by-id",
		Short: "Fetch one document by its _id",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "find_by_id", Collection: collection, ID: id})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&id, "id", "", "Document _id")
	cmd.MarkFlagRequired("collection")
	cmd.MarkFlagRequired("id")
	return cmd
}

func explainCmd() *cobra.Command {
	var collection, filter string
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the access path the planner would choose for a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.Request{Op: "explain", Collection: collection}
			if filter != "" {
				req.Filter = json.RawMessage(filter)
			}
			resp, err := call(req)
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&filter, "filter", "", "MongoDB-style JSON filter (default: match all)")
	cmd.MarkFlagRequired("collection")
	return cmd
}

func beginSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "begin-snapshot",
		Short: "Pin the current watermark against garbage collection and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "begin_snapshot"})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func markerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "marker-status",
		Short: "Print this node's on-disk authority marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "marker_status"})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func requestPromotionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-promotion",
		Short: "Ask this follower node to run the promotion protocol and become the authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(ipc.Request{Op: "request_promotion"})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"acms/internal/boundary"
	"acms/internal/domain"
)

var (
	ingestTopicID string
	ingestText    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a new memory item (ingest_memory)",
	RunE:  runIngest,
}

var (
	getItemID string
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch and decrypt one memory item (get_memory)",
	RunE:  runGet,
}

var (
	listTopicID string
	listTier    string
	listOffset  int
	listLimit   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory items for a user (list_memories)",
	RunE:  runList,
}

var (
	editItemID  string
	editText    string
	editPinned  bool
	editVersion int64
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit a memory item's text and/or pinned flag (edit_memory)",
	RunE:  runEdit,
}

var (
	pinItemID  string
	pinValue   bool
	pinVersion int64
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Pin or unpin a memory item (pin_memory)",
	RunE:  runPin,
}

var deleteItemID string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Archive a memory item (delete_memory)",
	RunE:  runDelete,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTopicID, "topic", "", "Topic id (required)")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "Item text (required)")
	ingestCmd.MarkFlagRequired("topic")
	ingestCmd.MarkFlagRequired("text")

	getCmd.Flags().StringVar(&getItemID, "item", "", "Item id (required)")
	getCmd.MarkFlagRequired("item")

	listCmd.Flags().StringVar(&listTopicID, "topic", "", "Topic id filter (optional)")
	listCmd.Flags().StringVar(&listTier, "tier", "", "Tier filter: SHORT, MID, LONG (optional; archived items are never listed)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Pagination offset")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Pagination limit")

	editCmd.Flags().StringVar(&editItemID, "item", "", "Item id (required)")
	editCmd.Flags().StringVar(&editText, "text", "", "New item text (optional)")
	editCmd.Flags().BoolVar(&editPinned, "pinned", false, "New pinned flag (only applied when --pinned is given explicitly)")
	editCmd.Flags().Int64Var(&editVersion, "expected-version", 0, "Expected current version (optimistic concurrency)")
	editCmd.MarkFlagRequired("item")

	pinCmd.Flags().StringVar(&pinItemID, "item", "", "Item id (required)")
	pinCmd.Flags().BoolVar(&pinValue, "value", true, "Pinned value to set")
	pinCmd.Flags().Int64Var(&pinVersion, "expected-version", 0, "Expected current version (optimistic concurrency)")
	pinCmd.MarkFlagRequired("item")

	deleteCmd.Flags().StringVar(&deleteItemID, "item", "", "Item id (required)")
	deleteCmd.MarkFlagRequired("item")
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, timeout)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	res, err := a.core.IngestMemory(ctx, boundary.IngestMemoryRequest{
		UserID: userID, TopicID: ingestTopicID, Text: ingestText,
	})
	if err != nil {
		return err
	}
	logger.Info("ingest_memory", zap.String("item_id", res.ItemID), zap.String("tier", string(res.Tier)))
	fmt.Printf("item_id=%s tier=%s initial_score=%.4f\n", res.ItemID, res.Tier, res.InitialScore)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	item, text, err := a.core.GetMemory(ctx, userID, getItemID)
	if err != nil {
		return err
	}
	out := struct {
		Item *domain.MemoryItem `json:"item"`
		Text string              `json:"text"`
	}{Item: item, Text: text}
	return printJSON(out)
}

func runList(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	res, err := a.core.ListMemories(ctx, boundary.ListMemoriesRequest{
		UserID: userID, TopicID: listTopicID, Tier: domain.Tier(listTier),
		Offset: listOffset, Limit: listLimit,
	})
	if err != nil {
		return err
	}
	fmt.Printf("total=%d shown=%d\n", res.Total, len(res.Items))
	for _, item := range res.Items {
		fmt.Printf("  %s  topic=%-20s tier=%-6s score=%.3f pinned=%v\n", item.ID, item.TopicID, item.Tier, item.RetentionScore, item.Pinned)
	}
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	req := boundary.EditMemoryRequest{UserID: userID, ItemID: editItemID, ExpectedVersion: editVersion}
	if cmd.Flags().Changed("text") {
		req.NewText = &editText
	}
	if cmd.Flags().Changed("pinned") {
		req.NewPinned = &editPinned
	}

	item, err := a.core.EditMemory(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(item)
}

func runPin(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	item, err := a.core.PinMemory(ctx, userID, pinItemID, pinValue, pinVersion)
	if err != nil {
		return err
	}
	return printJSON(item)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	if err := a.core.DeleteMemory(ctx, userID, deleteItemID); err != nil {
		return err
	}
	fmt.Printf("item %s archived\n", deleteItemID)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

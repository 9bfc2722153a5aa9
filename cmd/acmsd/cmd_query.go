package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"acms/internal/boundary"
	"acms/internal/domain"
	"acms/internal/rehydrate"
)

var (
	queryText           string
	queryTopicID        string
	queryIntent         string
	queryTokenBudget    int
	queryComplianceMode bool
	queryPermittedPII   []string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Rehydrate context for a query (query)",
	RunE:  runQuery,
}

var (
	outcomeQueryID string
	outcomeKind    string
	outcomeRating  int
	outcomeFloat   float64
	outcomeBool    bool
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record an outcome event against a prior query (record_outcome)",
	RunE:  runOutcome,
}

func init() {
	queryCmd.Flags().StringVar(&queryText, "text", "", "Query text (required)")
	queryCmd.Flags().StringVar(&queryTopicID, "topic", "", "Restrict to one topic (optional; enables compliance-mode scoping)")
	queryCmd.Flags().StringVar(&queryIntent, "intent", "", "Query intent: code-assist, research, meeting-prep, writing, analysis (optional; classified if omitted)")
	queryCmd.Flags().IntVar(&queryTokenBudget, "token-budget", 0, "Token budget (0 uses the configured default)")
	queryCmd.Flags().BoolVar(&queryComplianceMode, "compliance-mode", false, "Enable compliance-mode PII filtering")
	queryCmd.Flags().StringSliceVar(&queryPermittedPII, "permit-pii", nil, "PII kinds permitted in compliance mode: email, phone, government_id, credit_card, ip")
	queryCmd.MarkFlagRequired("text")

	outcomeCmd.Flags().StringVar(&outcomeQueryID, "query-id", "", "Query id returned in a prior query's audit log (required)")
	outcomeCmd.Flags().StringVar(&outcomeKind, "kind", "", "Outcome kind: thumbs_up, thumbs_down, rating, edit_distance, completed, completion_time_seconds (required)")
	outcomeCmd.Flags().IntVar(&outcomeRating, "rating", 0, "Rating 1-5 (kind=rating)")
	outcomeCmd.Flags().Float64Var(&outcomeFloat, "value", 0, "Float value (kind=edit_distance or completion_time_seconds)")
	outcomeCmd.Flags().BoolVar(&outcomeBool, "completed", false, "Completion flag (kind=completed)")
	outcomeCmd.MarkFlagRequired("query-id")
	outcomeCmd.MarkFlagRequired("kind")
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	var permitted map[domain.PIIKind]bool
	if len(queryPermittedPII) > 0 {
		permitted = make(map[domain.PIIKind]bool, len(queryPermittedPII))
		for _, k := range queryPermittedPII {
			permitted[domain.PIIKind(strings.TrimSpace(k))] = true
		}
	}

	bundle, err := a.core.Query(ctx, boundary.QueryRequest{
		UserID: userID, Query: queryText, TopicID: queryTopicID,
		Intent: rehydrate.Intent(queryIntent), TokenBudget: queryTokenBudget,
		ComplianceMode: queryComplianceMode, PermittedPII: permitted,
	})
	if err != nil {
		return err
	}
	return printJSON(bundle)
}

func runOutcome(cmd *cobra.Command, args []string) error {
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

	kind := domain.OutcomeKind(outcomeKind)
	ev := domain.OutcomeEvent{Kind: kind}
	switch kind {
	case domain.OutcomeRating:
		ev.Rating = outcomeRating
	case domain.OutcomeEditDistance, domain.OutcomeCompletionTimeS:
		ev.Float = outcomeFloat
	case domain.OutcomeCompleted:
		ev.Bool = outcomeBool
	case domain.OutcomeThumbsUp, domain.OutcomeThumbsDown:
		// no payload
	default:
		return fmt.Errorf("unknown outcome kind %q", outcomeKind)
	}

	if err := a.core.RecordOutcome(ctx, userID, outcomeQueryID, ev); err != nil {
		return err
	}
	fmt.Println("outcome recorded")
	return nil
}

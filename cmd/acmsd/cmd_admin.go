package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"acms/internal/scheduler"
)

var rotateKeysCmd = &cobra.Command{
	Use:   "rotate-keys",
	Short: "Rotate every topic's encryption key for a user (scheduler key_rotation job)",
	RunE:  runRotateKeys,
}

var runSchedulerJobKind string

var runSchedulerCmd = &cobra.Command{
	Use:   "run-scheduler",
	Short: "Run a scheduler job, or the full nightly sequence, for a user",
	RunE:  runRunScheduler,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and per-user store status",
	RunE:  runStatus,
}

func init() {
	runSchedulerCmd.Flags().StringVar(&runSchedulerJobKind, "job", "", "Job kind to run: crs_recompute_evaluate_consolidate, key_rotation, archive_purge (empty runs the full nightly sequence)")
}

func runRotateKeys(cmd *cobra.Command, args []string) error {
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

	state, err := a.scheduler.RunJob(ctx, scheduler.JobKeyRotation, userID)
	if err != nil {
		return err
	}
	return printJSON(state)
}

func runRunScheduler(cmd *cobra.Command, args []string) error {
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

	if runSchedulerJobKind == "" {
		states, err := a.scheduler.RunNightly(ctx, userID)
		if err != nil {
			return err
		}
		return printJSON(states)
	}

	state, err := a.scheduler.RunJob(ctx, scheduler.JobKind(runSchedulerJobKind), userID)
	if err != nil {
		return err
	}
	return printJSON(state)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("acmsd status")
	fmt.Println("============")
	fmt.Printf("embedding provider: %s (%s)\n", a.cfg.Embedding.Provider, a.embedder.Name())
	fmt.Printf("vector dimensions:  %d (store) / %d (embedder)\n", a.cfg.Store.VectorDimensions, a.embedder.Dimensions())
	fmt.Printf("compliance default: %v\n", a.cfg.Compliance.ModeDefault)
	fmt.Printf("cache ttl:          %s\n", a.cfg.GetCacheTTL())

	if userID == "" {
		fmt.Println("(pass --user to see per-user topic counts)")
		return nil
	}

	ctx, cancel := withTimeout(cmd)
	defer cancel()
	topics, err := a.store.ListTopics(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("user:               %s\n", userID)
	fmt.Printf("topics:             %d\n", len(topics))
	for _, t := range topics {
		fmt.Printf("  - %s\n", t)
	}
	return nil
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quayio/pgreplicate/pkg/session"
)

var createSlotCmd = &cobra.Command{
	Use:   "create-slot",
	Short: "Create the configured replication slot and exit",
	RunE:  runCreateSlot,
}

var dropSlotCmd = &cobra.Command{
	Use:   "drop-slot",
	Short: "Drop the configured replication slot and exit",
	RunE:  runDropSlot,
}

func runCreateSlot(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessCfg := cfg.SessionConfig()
	sessCfg.CreateSlot = true

	sess := session.New(sessCfg, session.HandlerFunc(func(context.Context, session.Message) error { return nil }), session.WithLogger(logger))
	defer sess.Close(ctx)

	if err := sess.Init(ctx); err != nil {
		return err
	}
	return sess.CreateSlot(ctx)
}

func runDropSlot(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessCfg := cfg.SessionConfig()

	sess := session.New(sessCfg, session.HandlerFunc(func(context.Context, session.Message) error { return nil }), session.WithLogger(logger))
	defer sess.Close(ctx)

	if err := sess.Init(ctx); err != nil {
		return err
	}
	return sess.DropSlot(ctx)
}

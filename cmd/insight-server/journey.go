package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gmtcc/insight/internal/config"
	"github.com/gmtcc/insight/internal/domain/journey"
)

// journeyOp is one admin command driving a store operation.
type journeyOp struct {
	use   string
	short string
	args  cobra.PositionalArgs
	run   func(ctx context.Context, st *journey.Store, args []string) (journey.JourneyState, error)
}

var journeyOps = []journeyOp{
	{"show", "Print the journey dashboard", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.State(ctx)
		}},
	{"buy OPTION", "Record a purchase (TEST_ONLY, BUNDLE or UPGRADE)", cobra.ExactArgs(1),
		func(ctx context.Context, st *journey.Store, args []string) (journey.JourneyState, error) {
			opt, err := journey.ParsePurchaseOption(args[0])
			if err != nil {
				return journey.JourneyState{}, err
			}
			return st.BuyItem(ctx, opt)
		}},
	{"advance [STATUS]", "Move the test kit to STATUS, or to the next status when omitted", cobra.MaximumNArgs(1),
		func(ctx context.Context, st *journey.Store, args []string) (journey.JourneyState, error) {
			var next journey.TestStatus
			if len(args) == 1 {
				s, err := journey.ParseTestStatus(args[0])
				if err != nil {
					return journey.JourneyState{}, err
				}
				next = s
			} else {
				cur, err := st.State(ctx)
				if err != nil {
					return journey.JourneyState{}, err
				}
				s, ok := cur.TestStatus.Next()
				if !ok {
					return journey.JourneyState{}, fmt.Errorf("test kit is %s and has no next status", cur.TestStatus)
				}
				next = s
			}
			return st.AdvanceTestStatus(ctx, next)
		}},
	{"schedule-consultation DATE", "Book the consultation at an RFC 3339 time", cobra.ExactArgs(1),
		func(ctx context.Context, st *journey.Store, args []string) (journey.JourneyState, error) {
			at, err := parseDate(args[0])
			if err != nil {
				return journey.JourneyState{}, err
			}
			return st.ScheduleConsultation(ctx, at)
		}},
	{"schedule-brt DATE", "Book the BRT session at an RFC 3339 time", cobra.ExactArgs(1),
		func(ctx context.Context, st *journey.Store, args []string) (journey.JourneyState, error) {
			at, err := parseDate(args[0])
			if err != nil {
				return journey.JourneyState{}, err
			}
			return st.ScheduleBrt(ctx, at)
		}},
	{"skip-brt", "Decline the BRT session", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.SkipBrt(ctx)
		}},
	{"complete-consultation", "Mark the consultation done", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.CompleteConsultation(ctx)
		}},
	{"complete-questionnaire", "Mark the intake questionnaire done", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.CompleteQuestionnaire(ctx)
		}},
	{"purchase-probiotics", "Pay for the probiotic protocol", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.PurchaseProbiotics(ctx)
		}},
	{"ship-probiotics", "Ship the probiotic protocol", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.ShipProbiotics(ctx)
		}},
	{"read ID", "Mark a notification read", cobra.ExactArgs(1),
		func(ctx context.Context, st *journey.Store, args []string) (journey.JourneyState, error) {
			return st.MarkNotificationRead(ctx, args[0])
		}},
	{"reset", "Clear storage and start a fresh profile", cobra.NoArgs,
		func(ctx context.Context, st *journey.Store, _ []string) (journey.JourneyState, error) {
			return st.ResetSimulation(ctx)
		}},
}

func journeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journey",
		Short: "Inspect and drive the simulated patient journey",
	}
	for _, op := range journeyOps {
		op := op
		cmd.AddCommand(&cobra.Command{
			Use:   op.use,
			Short: op.short,
			Args:  op.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runJourneyOp(cmd, op, args)
			},
		})
	}
	return cmd
}

func runJourneyOp(cmd *cobra.Command, op journeyOp, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := op.run(cmd.Context(), a.store, args)
	if err != nil {
		return err
	}
	return printDashboard(cmd.OutOrStdout(), journey.BuildDashboard(s, a.store.Policy()))
}

func parseDate(s string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be RFC 3339, e.g. 2026-11-02T10:30:00+08:00: %w", err)
	}
	return at, nil
}

func printDashboard(w io.Writer, d journey.Dashboard) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/choiros/choiros/internal/config"
	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/eventstore"
)

// buildStatusCmd creates the "status" command: a point-in-time snapshot of
// the supervision forest derived from the EventStore's trace, since the
// EventStore is explicitly the only thing choirosd may consult without
// standing up the full ApplicationSupervisor (§4.1, §8.1 invariant 8 bars
// it from driving control flow, not from being read for reporting).
func buildStatusCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a snapshot of recent runs from the event trace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "choiros.yaml", "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 500, "Number of trailing events to scan")
	return cmd
}

type runSummary struct {
	runID      string
	sessionID  string
	threadID   string
	lastTopic  string
	lastSeq    uint64
	eventCount int
}

func runStatus(cmd *cobra.Command, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := eventstore.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	events, err := store.Query(context.Background(), "", nil, 0, limit)
	if err != nil {
		return fmt.Errorf("query event store: %w", err)
	}

	runs := map[string]*runSummary{}
	for _, e := range events {
		if e.Scope.RunID == "" {
			continue
		}
		rs, ok := runs[e.Scope.RunID]
		if !ok {
			rs = &runSummary{runID: e.Scope.RunID, sessionID: e.Scope.SessionID, threadID: e.Scope.ThreadID}
			runs[e.Scope.RunID] = rs
		}
		rs.eventCount++
		if e.Seq > rs.lastSeq {
			rs.lastSeq = e.Seq
			rs.lastTopic = e.Topic
		}
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found in the scanned window")
		return nil
	}

	ordered := make([]*runSummary, 0, len(runs))
	for _, rs := range runs {
		ordered = append(ordered, rs)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].lastSeq > ordered[j].lastSeq })

	fmt.Fprintf(out, "%-30s %-20s %-20s %9s  %s\n", "RUN_ID", "SESSION_ID", "THREAD_ID", "EVENTS", "LAST_TOPIC")
	for _, rs := range ordered {
		fmt.Fprintf(out, "%-30s %-20s %-20s %9d  %s\n", rs.runID, rs.sessionID, rs.threadID, rs.eventCount, statusLabel(rs.lastTopic))
	}
	return nil
}

func statusLabel(topic string) string {
	switch topic {
	case core.TopicWriterRunStatus:
		return topic + " (terminal or mid-run)"
	case core.TopicWriterRunFailed, core.TopicWorkerTaskFailed:
		return topic + " (failed)"
	case core.TopicWorkerTaskBlocked:
		return topic + " (blocked)"
	default:
		return topic
	}
}

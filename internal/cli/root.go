// Package cli provides the command-line interface for portkeep.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"portkeep/internal/appconfig"
	"portkeep/internal/bundle"
	"portkeep/internal/doctor"
	"portkeep/internal/engine"
	"portkeep/internal/events"
	"portkeep/internal/logging"
	"portkeep/internal/manager"
	"portkeep/internal/model"
	"portkeep/internal/store"
	"portkeep/internal/supervise"
	"portkeep/internal/ui"
	"portkeep/internal/util"
	"portkeep/internal/validate"
)

// NewRootCommand creates the root cobra command. Running portkeep with no
// arguments opens the dashboard.
func NewRootCommand() *cobra.Command {
	var debug bool
	var logCloser io.Closer

	root := &cobra.Command{
		Use:   "portkeep",
		Short: "Persistent local TCP port-forward manager",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			closer, err := logging.Open(cfg.LogFile, debug)
			if err != nil {
				slog.Warn("file logging unavailable", "error", err)
			}
			logCloser = closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.Run()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newAddCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newRestoreCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newBundleCmd())
	root.AddCommand(newDashboardCmd())
	return root
}

// newManager assembles the mapping manager from the loaded configuration.
// Commands build it inside RunE so configuration and environment overrides
// are read at execution time, not at command construction.
func newManager() (*manager.Manager, appconfig.Config, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	launcher := engine.NewLauncher(cfg.Forwarder.Command, cfg.LogFile)
	m := manager.New(store.New(cfg.StoreFile), validate.New(), supervise.New(launcher), events.NewStore())
	return m, cfg, nil
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <local> <remote>",
		Short: "Add a mapping and start its forwarder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager()
			if err != nil {
				return err
			}
			if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
				return err
			}
			mp, warns, err := m.Add(cmd.Context(), args[0], args[1])
			for _, w := range warns {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			if err != nil {
				return err
			}
			fmt.Printf("added %s -> %s pid=%d handle=%s\n", mp.Local, mp.Remote, mp.Handle.PID, mp.Handle)
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <local>",
		Aliases: []string{"rm", "del"},
		Short:   "Stop a mapping's forwarder and delete its record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager()
			if err != nil {
				return err
			}
			if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
				return err
			}
			mp, err := m.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("removed %s -> %s\n", mp.Local, mp.Remote)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var jsonOut bool
	var probe bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show mappings and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager()
			if err != nil {
				return err
			}
			if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
				return err
			}
			var statuses []model.MappingStatus
			if probe {
				statuses, err = m.Snapshot(cmd.Context())
			} else {
				statuses, err = m.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			if jsonOut {
				if statuses == nil {
					statuses = []model.MappingStatus{}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			if len(statuses) == 0 {
				fmt.Println("no active mappings")
				return nil
			}
			printStatuses(statuses, probe)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&probe, "probe", false, "TCP-probe live mappings and show latency")
	return cmd
}

func printStatuses(statuses []model.MappingStatus, withLatency bool) {
	if withLatency {
		fmt.Printf("%-22s %-26s %-8s %-22s %-10s %-8s\n", "LOCAL", "REMOTE", "STATUS", "HANDLE", "UPTIME", "LAT(ms)")
	} else {
		fmt.Printf("%-22s %-26s %-8s %-22s %-10s\n", "LOCAL", "REMOTE", "STATUS", "HANDLE", "UPTIME")
	}
	for _, st := range statuses {
		uptime := ""
		note := ""
		if st.Health == model.HealthLive {
			uptime = (time.Duration(st.UptimeSec) * time.Second).String()
		} else {
			note = " (invalid)"
		}
		if withLatency {
			fmt.Printf("%-22s %-26s %-8s %-22s %-10s %-8d%s\n",
				st.Local, st.Remote, st.Health, st.Handle, util.EmptyDash(uptime), st.LatencyMS, note)
		} else {
			fmt.Printf("%-22s %-26s %-8s %-22s %-10s%s\n",
				st.Local, st.Remote, st.Health, st.Handle, util.EmptyDash(uptime), note)
		}
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Reconcile the store: keep live mappings, restart dead ones, drop failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager()
			if err != nil {
				return err
			}
			if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
				return err
			}
			res, err := m.Restore(cmd.Context())
			if err != nil {
				return err
			}
			reportRestore(res)
			return nil
		},
	}
}

func reportRestore(res manager.RestoreResult) {
	for _, mp := range res.Restarted {
		fmt.Printf("restarted %s -> %s pid=%d\n", mp.Local, mp.Remote, mp.Handle.PID)
	}
	for _, d := range res.Dropped {
		fmt.Fprintf(os.Stderr, "dropped %s -> %s: %v\n", d.Mapping.Local, d.Mapping.Remote, d.Reason)
	}
	if len(res.Kept)+len(res.Restarted)+len(res.Dropped) == 0 {
		fmt.Println("no mappings to restore")
		return
	}
	fmt.Printf("kept %d, restarted %d, dropped %d\n", len(res.Kept), len(res.Restarted), len(res.Dropped))
}

func newWatchCmd() *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run restore on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := newManager()
			if err != nil {
				return err
			}
			if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
				return err
			}
			if interval <= 0 {
				interval = cfg.Watch.IntervalSeconds
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("watching mappings every %ds\n", interval)
			ticker := time.NewTicker(time.Duration(interval) * time.Second)
			defer ticker.Stop()
			for {
				res, err := m.Restore(ctx)
				if err != nil {
					slog.Error("watch reconcile failed", "error", err)
				} else if len(res.Restarted) > 0 || len(res.Dropped) > 0 {
					reportRestore(res)
				}
				select {
				case <-ctx.Done():
					fmt.Println("watch stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 0, "seconds between reconcile passes (default from config)")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var jsonOut bool
	var local, eventType, since string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the mapping lifecycle journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{Local: local, EventType: eventType, Limit: limit}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since duration: %w", err)
				}
				q.Since = time.Now().Add(-d)
			}
			evs, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if jsonOut {
				if evs == nil {
					evs = []events.Event{}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evs)
			}
			if len(evs) == 0 {
				fmt.Println("no events recorded")
				return nil
			}
			fmt.Printf("%-25s %-18s %-22s %-26s %s\n", "TIME", "TYPE", "LOCAL", "REMOTE", "DETAIL")
			for _, e := range evs {
				detail := e.Message
				if detail == "" {
					detail = e.Handle
				}
				fmt.Printf("%-25s %-18s %-22s %-26s %s\n",
					e.Timestamp.Local().Format(time.RFC3339), e.EventType,
					util.EmptyDash(e.Local), util.EmptyDash(e.Remote), util.EmptyDash(detail))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().StringVar(&local, "local", "", "filter by local endpoint")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&since, "since", "", "only events newer than this duration, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 0, "keep only the most recent N events")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose forwarder, store, and config problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			fmt.Printf("%-8s %-18s %-30s %s\n", "SEV", "CHECK", "TARGET", "MESSAGE")
			for _, is := range report.Issues {
				fmt.Printf("%-8s %-18s %-30s %s\n", is.Severity, is.Check, is.Target, is.Message)
				if is.Recommendation != "" {
					fmt.Printf("%-8s fix: %s\n", "", is.Recommendation)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newBundleCmd() *cobra.Command {
	root := &cobra.Command{Use: "bundle", Short: "Manage named groups of mappings"}

	create := &cobra.Command{
		Use:   "create <name> <local> <remote> [<local> <remote> ...]",
		Short: "Create or replace a bundle",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || (len(args)-1)%2 != 0 {
				return fmt.Errorf("expected a name followed by local/remote pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []bundle.Entry
			for i := 1; i < len(args); i += 2 {
				entries = append(entries, bundle.Entry{Local: args[i], Remote: args[i+1]})
			}
			if err := bundle.Create(args[0], entries); err != nil {
				return err
			}
			fmt.Printf("bundle %s saved with %d entries\n", args[0], len(entries))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := bundle.LoadAll()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("no bundles defined")
				return nil
			}
			fmt.Printf("%-24s %s\n", "NAME", "ENTRIES")
			for _, b := range all {
				fmt.Printf("%-24s %d\n", b.Name, len(b.Entries))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a bundle's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%-22s %s\n", "LOCAL", "REMOTE")
			for _, e := range b.Entries {
				fmt.Printf("%-22s %s\n", e.Local, e.Remote)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bundle.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("bundle %s deleted\n", args[0])
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run <name>",
		Short: "Add every mapping in a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Get(args[0])
			if err != nil {
				return err
			}
			m, cfg, err := newManager()
			if err != nil {
				return err
			}
			if err := engine.Ensure(cfg.Forwarder.Command); err != nil {
				return err
			}
			started, failed := 0, 0
			for _, e := range b.Entries {
				mp, warns, err := m.Add(cmd.Context(), e.Local, e.Remote)
				for _, w := range warns {
					fmt.Fprintf(os.Stderr, "warning: %s\n", w)
				}
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "failed %s -> %s: %v\n", e.Local, e.Remote, err)
					continue
				}
				started++
				fmt.Printf("added %s -> %s pid=%d\n", mp.Local, mp.Remote, mp.Handle.PID)
			}
			fmt.Printf("bundle %s: %d started, %d failed\n", b.Name, started, failed)
			return nil
		},
	}

	root.AddCommand(create, list, show, del, run)
	return root
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "dashboard",
		Aliases: []string{"dash"},
		Short:   "Open the interactive mapping dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.Run()
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nebulaforge/forge/cmd/forge/runtime"

	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/daemon/components"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the NebulaForge engine daemon",
	Long:  `Starts the engine backend as a long-running service using component lifecycle orchestration. It exposes the HTTP API and restores the workspace session and event journal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := runtime.ResolveWorkspaceID(cmd)
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		storeComp := components.NewStoreWorkerComponent(workspaceID, cfg.Daemon.WorkspacePath, &cfg.Store)
		eventsComp := components.NewEventLogComponent(storeComp)
		sessionComp := components.NewSessionComponent(storeComp, cfg.Session)
		registryComp := components.NewRegistryComponent(eventsComp, cfg.Catalog)
		engineComp := components.NewEngineComponent(registryComp, eventsComp, cfg.Engine)
		exporterComp := components.NewExporterComponent(cfg.Exporter)
		simulatorComp := components.NewSimulatorComponent(eventsComp, cfg.Simulator)
		httpComp := components.NewHTTPServerComponent(daemonMgr, &cfg.Server, sessionComp, registryComp, engineComp, exporterComp, eventsComp)

		daemonMgr.AddComponent(storeComp)
		daemonMgr.AddComponent(eventsComp)
		daemonMgr.AddComponent(sessionComp)
		daemonMgr.AddComponent(registryComp)
		daemonMgr.AddComponent(engineComp)
		daemonMgr.AddComponent(exporterComp)
		daemonMgr.AddComponent(simulatorComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("NebulaForge daemon starting up...", "port", cfg.Server.Port, "workspace", workspaceID)
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("NebulaForge daemon stopped gracefully", "workspace", workspaceID)
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("NebulaForge daemon stopped gracefully", "workspace", workspaceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	runCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}

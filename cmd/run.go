package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-orchestrator/internal/orchestrator"
	"github.com/sells-group/recruit-orchestrator/internal/pipelinefile"
	"github.com/sells-group/recruit-orchestrator/internal/session"
)

var runSession string

var runCmd = &cobra.Command{
	Use:   "run <pipeline.yaml>",
	Short: "Run a pipeline definition headless, in chain order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		def, err := pipelinefile.Load(args[0])
		if err != nil {
			return err
		}

		env, err := initOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := env.Close(closeCtx); err != nil {
				zap.L().Warn("shutdown incomplete", zap.Error(err))
			}
		}()

		sessionID := runSession
		if sessionID == "" {
			sessionID = def.Session
		}
		snap, runErr := runDefinition(ctx, env.Dispatcher, env.Sessions, sessionID, def)
		if snap != nil {
			if err := writeSnapshot(cmd.OutOrStdout(), *snap); err != nil {
				return err
			}
		}
		return runErr
	},
}

// runDefinition creates the session and pipeline and runs the chain. The
// pipeline snapshot is returned whenever the pipeline was created.
func runDefinition(ctx context.Context, d *orchestrator.Dispatcher, sessions *session.Manager, sessionID string, def *pipelinefile.File) (*session.Snapshot, error) {
	if sessionID == "" {
		sessionID = "cli"
	}
	store, _, err := sessions.Create(sessionID)
	if err != nil {
		return nil, err
	}
	chain, err := def.Chain()
	if err != nil {
		return nil, err
	}
	p, err := d.CreatePipeline(sessionID, chain)
	if err != nil {
		return nil, err
	}

	runErr := d.RunChain(ctx, sessionID, p.ID)
	snap, err := store.Snapshot(p.ID)
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		return &snap, eris.Wrapf(runErr, "run pipeline %s", p.ID)
	}
	zap.L().Info("pipeline complete",
		zap.String("session", sessionID),
		zap.String("pipeline", p.ID),
		zap.Int("screened", len(snap.Approvals.Screened)),
		zap.Int("approved_offer", len(snap.Approvals.ApprovedOffer)),
	)
	return &snap, nil
}

func writeSnapshot(w io.Writer, snap session.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "session id (default from the pipeline file, or \"cli\")")
	rootCmd.AddCommand(runCmd)
}

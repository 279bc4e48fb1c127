package main

import (
	"context"
	"io"
	"os"
	"strconv"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pp-engine/pp/internal/envsnapshot"
	"github.com/pp-engine/pp/internal/metrics"
	"github.com/pp-engine/pp/internal/orchestrator"
	"github.com/pp-engine/pp/internal/pplog"
	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/proposer"
)

// newSessionID generates a random session identifier. Grounded on
// hashicorp-nomad-autoscaler's own direct use of
// github.com/hashicorp/go-uuid for exactly this kind of opaque run
// identifier (policy/ha/consul_discovery.go, ha/discovery.go).
func newSessionID() (string, error) {
	return uuid.GenerateUUID()
}

// buildProposer wires internal/proposer.Client from the frozen environment
// snapshot, using the provider PP_PROVIDER names there (spec.md §6
// "Environment variables").
func buildProposer(snap envsnapshot.Snapshot) *proposer.Client {
	cfg := proposer.Config{RatePerSec: 2}

	switch snap.Provider {
	case "local":
		cfg.BaseURL = snap.LocalBaseURL
		cfg.APIKey = snap.LocalAPIKey
		cfg.Model = snap.LocalModel
		cfg.TimeoutSec = atoiDefault(snap.LocalTimeoutSec, 60)
	default:
		cfg.BaseURL = snap.OpenAIBaseURL
		cfg.APIKey = snap.OpenAIAPIKey
		cfg.Model = snap.OpenAIModel
		cfg.MaxTokens = atoiDefault(snap.OpenAIMaxTokens, 2048)
		cfg.TimeoutSec = 60
	}

	return proposer.New(cfg, nil)
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}

	return n
}

// runSessionWithID materializes a workspace for target under pol and
// drives orchestrator.Run, writing its bundle under artifactDir. stderr
// receives the human-mode progress bar unless jsonMode is set.
func runSessionWithID(ctx context.Context, stderr io.Writer, pol *policy.Policy, target policy.ProofTarget, workspaceRoot, artifactDir, sessionID string, env map[string]string, jsonMode bool) (*orchestrator.Session, error) {
	snap := envsnapshot.Take(env, pol.Attestation.KeyEnv)

	cfg := orchestrator.Config{
		Policy:   pol,
		Proposer: buildProposer(snap),
		Logger:   pplog.New("pp", "info", stderr),
		Metrics:  metrics.NewRegistry(prometheus.NewRegistry()),
		Env:      os.Environ(),
	}

	if !jsonMode {
		cfg.OnAttempt = attemptBar(stderr, pol.Limits.MaxAttempts)
	}

	var attestationKey []byte
	if snap.HasAttestationKey() {
		attestationKey = []byte(snap.AttestationKey)
	}

	return orchestrator.Run(ctx, cfg, orchestrator.Options{
		SessionID:      sessionID,
		WorkspaceRoot:  workspaceRoot,
		ArtifactDir:    artifactDir,
		Target:         target,
		AttestationKey: attestationKey,
	})
}

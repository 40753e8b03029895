package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infercore/infercore/internal/domain"
)

var (
	inferTenant     string
	inferModel      string
	inferPrompt     string
	inferArtifact   string
	inferMaxTokens  int
	inferTemperature float64
	inferTier       string
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run a single synchronous inference request",
	Long: `Resolves (or auto-registers, if --artifact-uri is given) a model
manifest, ranks candidate runners, and runs one request to completion
through the same orchestrator path the daemon uses.`,
	RunE: runInfer,
}

func init() {
	inferCmd.Flags().StringVar(&inferTenant, "tenant", "default", "tenant id")
	inferCmd.Flags().StringVar(&inferModel, "model", "", "model id to resolve (required)")
	inferCmd.Flags().StringVar(&inferPrompt, "prompt", "", "prompt text (required)")
	inferCmd.Flags().StringVar(&inferArtifact, "artifact-uri", "", "if set, registers a GGUF manifest at this URI before running")
	inferCmd.Flags().IntVar(&inferMaxTokens, "max-tokens", 128, "maximum tokens to generate")
	inferCmd.Flags().Float64Var(&inferTemperature, "temperature", 0.8, "sampling temperature")
	inferCmd.Flags().StringVar(&inferTier, "tier", "", "SLA tier (realtime, standard, batch, spot); layered on top of the configured quota defaults")
	_ = inferCmd.MarkFlagRequired("model")
	_ = inferCmd.MarkFlagRequired("prompt")
}

func runInfer(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	if inferArtifact != "" {
		manifest := domain.ModelManifest{
			TenantID:         inferTenant,
			ModelID:          inferModel,
			Version:          "1",
			SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF},
			Artifacts: map[domain.ArtifactFormat]domain.Artifact{
				domain.FormatGGUF: {URI: inferArtifact},
			},
		}
		if err := a.registry.Put(manifest); err != nil {
			return fmt.Errorf("register manifest: %w", err)
		}
	}

	tenant := domain.TenantContext{
		TenantID: inferTenant,
		Active:   true,
		QuotaLimits: domain.QuotaLimits{
			MaxConcurrent: a.cfg.Quota.DefaultMaxConcurrent,
			RatePerSecond: a.cfg.Quota.DefaultRatePerSecond,
			Tier:          domain.SLATier(inferTier),
		},
	}

	params := domain.DefaultGenerationParams()
	params.MaxTokens = inferMaxTokens
	params.Temperature = inferTemperature

	req := domain.InferenceRequest{
		RequestID:  fmt.Sprintf("cli-%s-%s", inferTenant, inferModel),
		ModelID:    inferModel,
		TenantID:   inferTenant,
		Prompt:     inferPrompt,
		Parameters: params,
	}
	reqCtx := domain.RequestContext{RequestID: req.RequestID, TenantID: inferTenant, MaxAttempts: 3}

	resp, err := a.orch.Infer(ctx, tenant, req, reqCtx)
	if err != nil {
		return fmt.Errorf("infer: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Content)
	fmt.Fprintf(cmd.ErrOrStderr(), "runner=%s duration_ms=%d tokens=%d\n", resp.RunnerName, resp.DurationMs, resp.TokensUsed)
	return nil
}

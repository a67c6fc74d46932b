// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/chattrace/pkg/filter"
	"github.com/teradata-labs/chattrace/pkg/observability"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify tracing credentials for every configured filter",
	Long: `Build each configured filter and check that its tracing backend accepts
the configured credentials. Exits non-zero if any check fails.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "timeout per check")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pipelines, err := buildPipelines(ctx, config, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range pipelines {
			_ = p.Close(context.Background())
		}
	}()

	return checkPipelines(ctx, cmd.OutOrStdout(), pipelines, checkTimeout)
}

// checkPipelines runs AuthCheck on each pipeline's client and reports to out.
func checkPipelines(ctx context.Context, out io.Writer, pipelines []*filter.Pipeline, timeout time.Duration) error {
	failed := 0
	for _, p := range pipelines {
		client := p.Client()
		if _, ok := client.(*observability.NoOpClient); ok {
			_, _ = fmt.Fprintf(out, "- %s: tracing disabled (no credentials or endpoint)\n", p.ID())
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := client.AuthCheck(checkCtx)
		cancel()

		switch {
		case err == nil:
			_, _ = fmt.Fprintf(out, "✓ %s: %s credentials accepted\n", p.ID(), backendName(client))
		case errors.Is(err, observability.ErrUnauthorized):
			failed++
			_, _ = fmt.Fprintf(out, "✗ %s: invalid credentials, check the valves\n", p.ID())
		default:
			failed++
			_, _ = fmt.Fprintf(out, "✗ %s: %v\n", p.ID(), err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d filters failed the credential check", failed, len(pipelines))
	}
	return nil
}

func backendName(client observability.Client) string {
	switch client.(type) {
	case *observability.LangfuseClient:
		return "langfuse"
	case *observability.OTLPClient:
		return "otlp"
	default:
		return fmt.Sprintf("%T", client)
	}
}

package preflight

import (
	"context"
	"log/slog"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, logger *slog.Logger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryReadable("Watched directory", cfg.Paths.WatchDir),
		CheckDirectoryAccess("Main config directory", cfg.Paths.MainConfigDir),
	}

	if cfg.Features.CustomConfig {
		results = append(results, CheckParentWritable("Installed config directory", cfg.Paths.CustomConfigDir))
	}

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Resolved}
		if !status.Available {
			result.Detail = status.Detail
			if status.Optional {
				continue
			}
		}
		results = append(results, result)
	}

	if cfg.NATS.Server != "" {
		tlsResult, files := CheckNATSTLS(cfg, logger)
		results = append(results, tlsResult)
		if tlsResult.Passed {
			results = append(results, CheckNATS(ctx, cfg, files, logger))
		}
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Command axl is the CLI entry point: an "aspect"-flavored task runner that
// evaluates project scripts and dispatches discovered tasks (spec.md §6).
package main

import (
	"os"

	"github.com/axl-run/axl"
	"github.com/axl-run/axl/internal/bazelbuild/sink"
	"github.com/axl-run/axl/internal/dispatch"
)

func main() {
	ctx, cancel := axl.InterruptibleContext()
	defer cancel()

	workDir, err := os.Getwd()
	if err != nil {
		os.Exit(1)
	}

	code := dispatch.Run(ctx, dispatch.Options{
		WorkDir:   workDir,
		Args:      os.Args[1:],
		BuildTool: os.Getenv("AXL_BAZEL"),
		Uploader:  uploaderFromEnv(),
	})

	if err := axl.RunAtExit(); err != nil {
		os.Exit(1)
	}
	os.Exit(code)
}

// uploaderFromEnv wires the gRPC uploader sink from environment variables
// when a collector endpoint is configured.
func uploaderFromEnv() *sink.GRPCConfig {
	endpoint := os.Getenv("AXL_BES_ENDPOINT")
	if endpoint == "" {
		return nil
	}
	cfg := &sink.GRPCConfig{
		Endpoint: endpoint,
		Token:    os.Getenv("AXL_BES_TOKEN"),
		Insecure: os.Getenv("AXL_BES_INSECURE") != "",
	}
	if key := os.Getenv("AXL_BES_API_KEY"); key != "" {
		cfg.Metadata = map[string]string{"x-api-key": key}
	}
	return cfg
}

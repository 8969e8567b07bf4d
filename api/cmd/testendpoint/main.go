// Command testendpoint sends one image to a deployed OCR endpoint and prints the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"glm-ocr/api/internal/config"
	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/runpod"
	"glm-ocr/api/internal/util"
)

type options struct {
	EndpointID   string
	APIKey       string
	BaseURL      string
	Prompt       string
	MaxNewTokens int
	Wait         time.Duration
	Verbose      bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	opts := options{}
	code := 0
	cmd := &cobra.Command{
		Use:           "testendpoint [image]",
		Short:         "Send a test image to the OCR endpoint",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultImagePath()
			if len(args) == 1 {
				path = args[0]
			}
			code = run(cmd.Context(), opts, path, stdout, stderr)
			return nil
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.EndpointID, "endpoint-id", cfg.EndpointID, "endpoint id (env RUNPOD_ENDPOINT_ID)")
	f.StringVar(&opts.APIKey, "api-key", cfg.EndpointAPIKey, "API key (env RUNPOD_API_KEY)")
	f.StringVar(&opts.BaseURL, "base-url", cfg.EndpointBaseURL, "endpoint API base URL (env RUNPOD_BASE_URL)")
	f.StringVar(&opts.Prompt, "prompt", ocr.DefaultPrompt, "instruction sent with the image")
	f.IntVar(&opts.MaxNewTokens, "max-new-tokens", 0, "token budget (0 = worker default)")
	f.DurationVar(&opts.Wait, "wait", cfg.SyncWait, "how long the synchronous run may block (cold start + model load + OCR)")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "print the raw endpoint response")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return code
}

// defaultImagePath is test.jpg next to the executable.
func defaultImagePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "test.jpg"
	}
	return filepath.Join(filepath.Dir(exe), "test.jpg")
}

func run(ctx context.Context, opts options, path string, stdout, stderr io.Writer) int {
	if opts.EndpointID == "" || opts.APIKey == "" {
		fmt.Fprintln(stderr, "Error: endpoint id and API key are required (--endpoint-id/--api-key or RUNPOD_ENDPOINT_ID/RUNPOD_API_KEY)")
		return 1
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		fmt.Fprintf(stderr, "Error: Test image not found at %s\n", path)
		return 1
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read %s: %v\n", path, err)
		return 1
	}

	input := map[string]any{
		"prompt":    opts.Prompt,
		"image_url": util.EncodeDataURL(raw),
	}
	if opts.MaxNewTokens > 0 {
		input["max_new_tokens"] = opts.MaxNewTokens
	}

	client := runpod.NewClient(opts.BaseURL, opts.EndpointID, opts.APIKey)
	fmt.Fprintln(stdout, "Sending request to endpoint (this may take a while on cold start)...")
	res, err := client.RunSync(ctx, input, opts.Wait)
	return report(res, err, opts.Verbose, stdout, stderr)
}

// report classifies the endpoint answer and returns the process exit code.
func report(res *runpod.RunSyncResult, err error, verbose bool, stdout, stderr io.Writer) int {
	if err != nil {
		var se *runpod.StatusError
		if errors.As(err, &se) {
			fmt.Fprintf(stderr, "Error %d: %s\n", se.StatusCode, se.Body)
			return 1
		}
		fmt.Fprintf(stderr, "Request failed: %v\n", err)
		return 1
	}
	if verbose {
		fmt.Fprintf(stdout, "Raw response: %s\n", res.Raw)
	}
	if !res.Completed() {
		fmt.Fprintf(stdout, "Job status: %s\n", res.Status)
		fmt.Fprintln(stdout, string(res.Raw))
		return 1
	}

	out, err := res.HandlerResponse()
	if err != nil {
		fmt.Fprintf(stderr, "Bad job output: %v\n", err)
		return 1
	}
	if out.Error != "" {
		fmt.Fprintln(stderr, "Error from handler:", out.Error)
		return 1
	}

	fmt.Fprintln(stdout, "--- OCR result ---")
	fmt.Fprintln(stdout, out.Text())
	fmt.Fprintln(stdout, "---")
	if res.ExecutionTime > 0 {
		fmt.Fprintf(stdout, "Execution time: %d ms\n", res.ExecutionTime)
	}
	return 0
}

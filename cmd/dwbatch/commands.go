package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"example/dw-batch/internal/config"
	"example/dw-batch/internal/gemini"
	"example/dw-batch/internal/openai"
	"example/dw-batch/internal/service"

	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	envPath    string
	settings   config.Settings
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "dwbatch",
		Short:         "Build, submit and harvest batch inference jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			s, err := config.Load(config.Paths{ConfigFile: a.configPath, EnvFile: a.envPath})
			if err != nil {
				return err
			}
			a.settings = s
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to config.toml")
	root.PersistentFlags().StringVar(&a.envPath, "env-file", config.DefaultEnvPath, "path to the env file holding "+config.TokenEnvKey)

	root.AddCommand(
		a.buildCmd(),
		a.submitCmd(),
		a.processCmd(),
		a.statusCmd(),
		a.waitCmd(),
		a.cancelCmd(),
		a.listCmd(),
		a.previewCmd(),
	)
	return root
}

func (a *app) client() *openai.Client {
	return openai.NewClient(a.settings.API.BaseURL, a.settings.Token.Value(), a.settings.RequestTimeout())
}

// dirFlags are shared by every command that works inside an output directory.
type dirFlags struct {
	outputDir string
	logsDir   string
}

func (d *dirFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.outputDir, "output-dir", "", "output directory for results (required)")
	cmd.Flags().StringVar(&d.logsDir, "logs-dir", "", "directory for logs and batch files (default: <output-dir>/logs)")
	_ = cmd.MarkFlagRequired("output-dir")
}

func (d *dirFlags) logs() string {
	return service.LogsDir(d.outputDir, d.logsDir)
}

func (a *app) buildCmd() *cobra.Command {
	var (
		dirs     dirFlags
		files    []string
		inputDir string
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "build [--files FILE...]",
		Short: "Create a batch request file from images or documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := service.ParseMode(mode)
			if err != nil {
				return err
			}
			// Trailing arguments extend --files so "--files a.jpg b.jpg" works.
			files = append(files, args...)

			prompt, err := config.LoadPrompt(a.settings.Batch.PromptFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			a.printBuildHeader(out, m, files, inputDir)

			builder := service.NewBatchBuilder(service.BuilderConfig{
				Model:              a.settings.Models.DefaultModel,
				EmbeddingModel:     a.settings.Models.EmbeddingModel,
				MaxTokens:          a.settings.Output.MaxTokens,
				ChatEndpoint:       a.settings.API.ChatCompletionsEndpoint,
				EmbeddingsEndpoint: a.settings.API.EmbeddingsEndpoint,
				Prompt:             prompt,
				Concurrent:         a.settings.Batch.Concurrency,
			}, out)

			result, err := builder.Build(service.BuildOptions{
				Mode:     m,
				Files:    files,
				InputDir: inputDir,
				LogsDir:  dirs.logs(),
			})
			if err != nil {
				return err
			}
			if result.OutputFile == "" {
				return nil
			}

			bar := strings.Repeat("=", 60)
			fmt.Fprintf(out, "\n%s\nNEXT STEPS:\n", bar)
			fmt.Fprintf(out, "1. Review the batch file: %s\n", result.OutputFile)
			fmt.Fprintf(out, "2. Submit the batch: dwbatch submit --output-dir %s\n", dirs.outputDir)
			fmt.Fprintf(out, "3. Monitor progress: dwbatch wait --output-dir %s --process\n%s\n", dirs.outputDir, bar)
			return nil
		},
	}
	dirs.register(cmd)
	cmd.Flags().StringArrayVar(&files, "files", nil, "specific files to process (repeatable)")
	cmd.Flags().StringVar(&inputDir, "input-dir", "../../data", "directory to scan for inputs")
	cmd.Flags().StringVar(&mode, "mode", string(service.ModeImage), "request kind: image, summary or embedding")
	return cmd
}

func (a *app) printBuildHeader(out io.Writer, mode service.Mode, files []string, inputDir string) {
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(out, "%s\n%s BATCH REQUEST CONFIGURATION\n%s\n", bar, strings.ToUpper(string(mode)), bar)
	if mode == service.ModeEmbedding {
		fmt.Fprintf(out, "Model: %s\n", a.settings.Models.EmbeddingModel)
	} else {
		fmt.Fprintf(out, "Model: %s\n", a.settings.Models.DefaultModel)
		fmt.Fprintf(out, "Max tokens: %d\n", a.settings.Output.MaxTokens)
	}
	fmt.Fprintf(out, "Auth token: %s\n", a.settings.Token)
	if len(files) > 0 {
		fmt.Fprintf(out, "Mode: Specific files (%d)\n", len(files))
	} else {
		fmt.Fprintf(out, "Mode: Directory scan (%s)\n", inputDir)
	}
	fmt.Fprintf(out, "%s\n\n", bar)
}

func (a *app) submitCmd() *cobra.Command {
	var (
		dirs dirFlags
		file string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a batch request file and start the batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := service.NewSubmitter(a.client(), a.settings.API.CompletionWindow, cmd.OutOrStdout())
			_, err := s.Submit(cmd.Context(), service.SubmitOptions{
				RequestFile: file,
				LogsDir:     dirs.logs(),
			})
			return err
		},
	}
	dirs.register(cmd)
	cmd.Flags().StringVar(&file, "file", "", "batch request file (default: most recent batch_requests_*.jsonl in logs dir)")
	return cmd
}

// processPrompt loads the prompt used for JSON validation. A missing prompt
// file only disables the validation.
func (a *app) processPrompt() string {
	prompt, err := config.LoadPrompt(a.settings.Batch.PromptFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("warn: %v", err)
		}
		return ""
	}
	return prompt
}

func (a *app) runProcess(ctx context.Context, out io.Writer, dirs dirFlags, batchID string) error {
	p := service.NewResultProcessor(a.client(), a.processPrompt(), out)
	_, err := p.Process(ctx, service.ProcessOptions{
		BatchID:   batchID,
		OutputDir: dirs.outputDir,
		LogsDir:   dirs.logs(),
	})
	return err
}

func resolveBatchID(explicit string, dirs dirFlags) (string, error) {
	id, _, err := service.ResolveBatchID(explicit, dirs.logs())
	return id, err
}

func (a *app) processCmd() *cobra.Command {
	var (
		dirs    dirFlags
		batchID string
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Download the results of a completed batch and write one file per result",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBatchID(batchID, dirs)
			if err != nil {
				return err
			}
			return a.runProcess(cmd.Context(), cmd.OutOrStdout(), dirs, id)
		},
	}
	dirs.register(cmd)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch to process (default: most recent batch_id file in logs dir)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var (
		dirs    dirFlags
		batchID string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBatchID(batchID, dirs)
			if err != nil {
				return err
			}
			_, err = service.NewMonitor(a.client(), cmd.OutOrStdout()).Status(cmd.Context(), id)
			return err
		},
	}
	dirs.register(cmd)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch to inspect (default: most recent batch_id file in logs dir)")
	return cmd
}

func (a *app) waitCmd() *cobra.Command {
	var (
		dirs     dirFlags
		batchID  string
		interval time.Duration
		timeout  time.Duration
		process  bool
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll a batch until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBatchID(batchID, dirs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			out := cmd.OutOrStdout()
			if _, err := service.NewMonitor(a.client(), out).Wait(ctx, id, interval); err != nil {
				return err
			}
			if !process {
				return nil
			}
			fmt.Fprintln(out)
			return a.runProcess(cmd.Context(), out, dirs, id)
		},
	}
	dirs.register(cmd)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch to wait for (default: most recent batch_id file in logs dir)")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between status checks")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits indefinitely)")
	cmd.Flags().BoolVar(&process, "process", false, "process the results once the batch completes")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	var (
		dirs    dirFlags
		batchID string
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a running batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBatchID(batchID, dirs)
			if err != nil {
				return err
			}
			_, err = service.NewMonitor(a.client(), cmd.OutOrStdout()).Cancel(cmd.Context(), id)
			return err
		},
	}
	dirs.register(cmd)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch to cancel (default: most recent batch_id file in logs dir)")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var (
		limit int
		after string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := service.NewMonitor(a.client(), cmd.OutOrStdout()).List(cmd.Context(), limit, after)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of batches to list")
	cmd.Flags().StringVar(&after, "after", "", "list batches after this batch id")
	return cmd
}

func (a *app) previewCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run the prompt against one image synchronously with Gemini",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := config.LoadPrompt(a.settings.Batch.PromptFile)
			if err != nil {
				return err
			}

			g := a.settings.Gemini
			client, err := gemini.NewClient(cmd.Context(), g.Project, g.Location, g.Model)
			if err != nil {
				return err
			}
			log.Printf("previewing with %s", client.Model())

			_, _, err = service.NewImagePreviewer(client, prompt, cmd.OutOrStdout()).Preview(cmd.Context(), file)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "image to preview (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nijaru/yt-transcript/cache"
	"github.com/nijaru/yt-transcript/config"
	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/logger"
	"github.com/nijaru/yt-transcript/transcription"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const programName = "yt-transcript"

// Usage is printed when no command is given.
type Usage struct {
	Error    string            `json:"error,omitempty"`
	Commands map[string]string `json:"commands"`
	Notes    []string          `json:"notes"`
}

func usage() Usage {
	return Usage{
		Error: "Usage: " + programName + " <command> [args]",
		Commands: map[string]string{
			"fetch <video> [lang]":                 "Fetch full transcript, save to disk, return metadata only",
			"fetch <video> --force":                "Re-fetch even if cached",
			"text <video> [max_chars]":             "Get transcript text (fetches if needed, use sparingly)",
			"list":                                 "List cached transcripts",
			"search <pattern> [--max-results N]":   "Search cached transcripts (regex, case-insensitive)",
			"get <video_id>":                       "Load full transcript from cache",
			"clear":                                "Clear all cache",
			"languages <video>":                    "List transcript languages available for a video",
			"serve":                                "Run the transcript gateway",
		},
		Notes: []string{
			"Default workflow: fetch -> work with the local file at <cache dir>/<id>.json",
			"Use grep, head, cat on local files instead of dumping into context",
		},
	}
}

// app holds what the commands share. Configuration and the cache are loaded
// on first use so that usage errors never depend on them.
type app struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
	logger *logrus.Logger
	svc    *cache.Service
}

// Run executes one command and returns the process exit code. Results and
// errors are JSON documents on stdout; logs go to stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load() // best-effort: load .env if present

	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	if len(args) == 0 {
		a.writeJSON(usage())
		return 1
	}

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		a.writeJSON(map[string]string{"error": errorMessage(err)})
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	cobra.EnableCaseInsensitive = true

	root := &cobra.Command{
		Use:           programName + " <command> [args]",
		Short:         "Fetch, cache and search YouTube transcripts",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Flags on an unknown command must not hide the unknown command.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				a.writeJSON(usage())
				return nil
			}
			return fmt.Errorf("Unknown command: %s", strings.ToLower(args[0]))
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetHelpCommand(&cobra.Command{
		Use:    "help",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := usage()
			u.Error = ""
			return a.writeJSON(u)
		},
	})

	root.AddCommand(
		a.fetchCommand(),
		a.textCommand(),
		a.listCommand(),
		a.searchCommand(),
		a.getCommand(),
		a.clearCommand(),
		a.languagesCommand(),
		a.serveCommand(),
	)
	return root
}

// setup loads configuration and builds the logger once.
func (a *app) setup(logOut io.Writer) error {
	if a.cfg != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log, logOut)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = log
	return nil
}

func (a *app) client() *transcription.Client {
	if a.cfg.Client.APIToken == "" {
		a.logger.Warn("YT_API_TOKEN is not set, gateway requests will be rejected")
	}
	return transcription.NewClient(
		a.cfg.Client.APIBase,
		a.cfg.Client.APIToken,
		a.cfg.Client.Timeout,
		transcription.WithLogger(a.logger),
	)
}

func (a *app) service(ctx context.Context) (*cache.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	if err := a.setup(a.stderr); err != nil {
		return nil, err
	}

	store, err := cache.OpenStore(ctx, a.cfg.Cache, a.logger)
	if err != nil {
		return nil, err
	}
	a.svc = cache.NewService(store, a.client(), cache.WithLogger(a.logger))
	return a.svc, nil
}

func (a *app) close() {
	if a.svc == nil {
		return
	}
	if err := a.svc.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close cache store")
	}
}

func (a *app) writeJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(data))
	return err
}

func errorMessage(err error) string {
	return apperrors.Message(err)
}

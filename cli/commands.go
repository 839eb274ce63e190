package cli

import (
	"fmt"
	"strconv"

	"github.com/nijaru/yt-transcript/cache"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/validation"
	"github.com/spf13/cobra"
)

// argsBetween is cobra.RangeArgs with a usage line as the error message.
func argsBetween(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			return fmt.Errorf("Usage: %s", cmd.UseLine())
		}
		return nil
	}
}

func (a *app) fetchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <video> [lang]",
		Short: "Fetch a transcript into the cache and print its metadata",
		Args:  argsBetween(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			lang := cache.DefaultLanguage
			if len(args) > 1 {
				lang = args[1]
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.FetchOrGet(cmd.Context(), args[0], lang, force)
			if err != nil {
				return err
			}
			return a.writeJSON(result)
		},
	}
	cmd.Flags().Bool("force", false, "Re-fetch even if cached")
	return cmd
}

func (a *app) textCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "text <video> [max_chars]",
		Short: "Print transcript text, fetching it first if needed",
		Args:  argsBetween(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxChars := 0
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return fmt.Errorf("Invalid max_chars: %s", args[1])
				}
				maxChars = n
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.GetText(cmd.Context(), args[0], maxChars)
			if err != nil {
				return err
			}
			return a.writeJSON(result)
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached transcripts",
		Args:  argsBetween(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.writeJSON(result)
		},
	}
}

func (a *app) searchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "Search cached transcripts with a case-insensitive regular expression",
		Args:  argsBetween(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxResults, _ := cmd.Flags().GetInt("max-results")

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.Search(cmd.Context(), args[0], maxResults)
			if err != nil {
				return err
			}
			return a.writeJSON(result)
		},
	}
	cmd.Flags().Int("max-results", cache.DefaultMaxResults, "Stop after this many matching videos")
	return cmd
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <video_id>",
		Short: "Print a full cached transcript",
		Args:  argsBetween(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			t, _, err := svc.Get(cmd.Context(), validation.CanonicalizePermissive(args[0]))
			if err != nil {
				return err
			}
			return a.writeJSON(t)
		},
	}
}

func (a *app) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached transcript",
		Args:  argsBetween(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			count, err := svc.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return a.writeJSON(map[string]int{"cleared": count})
		},
	}
}

type languagesResult struct {
	VideoID     string                  `json:"video_id"`
	Transcripts []models.TranscriptInfo `json:"transcripts"`
}

func (a *app) languagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages <video>",
		Short: "List the transcript languages the gateway offers for a video",
		Args:  argsBetween(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(a.stderr); err != nil {
				return err
			}

			videoID := validation.CanonicalizePermissive(args[0])
			infos, err := a.client().List(cmd.Context(), videoID)
			if err != nil {
				return err
			}
			if infos == nil {
				infos = []models.TranscriptInfo{}
			}
			return a.writeJSON(languagesResult{VideoID: videoID, Transcripts: infos})
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/bedtime/internal/query"
	"github.com/user/bedtime/internal/story"
	"github.com/user/bedtime/internal/tags"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/tts"
)

func init() {
	rootCmd.AddCommand(storyCmd)
	storyCmd.AddCommand(storyListCmd, storyShowCmd, storyDeleteCmd, storyGenerateCmd, storyEditCmd,
		storyTagsCmd, storyCategoriesCmd, storyAudioCmd, storyBackfillCmd, storySweepCmd)

	f := storyListCmd.Flags()
	f.StringSlice("tag", nil, "only stories carrying every given tag")
	f.String("category", "", "only stories in this category")
	f.String("theme", "", "only stories with this theme")
	f.String("owner", "", "only stories of this owner id")
	f.Int("age-min", 0, "minimum age (0 = no bound)")
	f.Int("age-max", 0, "maximum age (0 = no bound)")
	f.String("sort", "created_at", "sort key: age, created_at, last_edited, title")
	f.String("order", "desc", "sort order: asc or desc")
	f.Int("page", 1, "page number")
	f.Int("limit", query.DefaultPageSize, "stories per page")

	f = storyGenerateCmd.Flags()
	f.Int("age", 0, "age of the listener")
	f.String("theme", "", "story theme")
	f.String("prompt", "", "what the story should be about")
	f.String("length", "medium", "short, medium or long")
	f.String("title", "", "title (derived when empty)")
	f.StringSlice("tag", nil, "extra tags")
	f.StringSlice("category", nil, "categories")
	f.Bool("save", true, "persist the story")
	f.Bool("audio", false, "narrate the saved story")
	storyGenerateCmd.MarkFlagRequired("age")
	storyGenerateCmd.MarkFlagRequired("theme")

	f = storyEditCmd.Flags()
	f.String("instructions", "", "how to revise the story")
	f.Bool("regenerate-audio", false, "narrate the revised story")
	storyEditCmd.MarkFlagRequired("instructions")

	f = storyTagsCmd.Flags()
	f.StringSlice("add", nil, "tags to add")
	f.StringSlice("remove", nil, "tags to remove")
	f.StringSlice("replace", nil, "replace every tag with these")

	f = storyAudioCmd.Flags()
	f.String("voice", "", "voice name (configured default when empty)")
	f.Float64("rate", 0, "speaking rate (configured default when 0)")

	storyBackfillCmd.Flags().Int("workers", 2, "concurrent narrations")
	storySweepCmd.Flags().Duration("retention", 0, "keep unattached audio this long (configured default when 0)")
}

// withApp wires the service for a one-shot command, cancelled on interrupt.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Manage stories",
}

var storyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		filter := query.Filter{}
		filter.Tags, _ = f.GetStringSlice("tag")
		filter.Category, _ = f.GetString("category")
		filter.Theme, _ = f.GetString("theme")
		filter.OwnerID, _ = f.GetString("owner")
		if f.Changed("age-min") {
			v, _ := f.GetInt("age-min")
			filter.AgeMin = &v
		}
		if f.Changed("age-max") {
			v, _ := f.GetInt("age-max")
			filter.AgeMax = &v
		}
		sortKey, _ := f.GetString("sort")
		order, _ := f.GetString("order")
		filter.SortKey = query.SortKey(sortKey)
		filter.SortOrder = query.SortOrder(order)
		filter.Page, _ = f.GetInt("page")
		filter.PageSize, _ = f.GetInt("limit")
		if filter.Page < 1 || filter.PageSize < 1 {
			return fmt.Errorf("page and limit must be >= 1")
		}

		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.service.List(ctx, filter)
			if err != nil {
				return err
			}
			return render(os.Stdout, outputFormat, res, func(out io.Writer) error {
				if len(res.Stories) == 0 {
					fmt.Fprintln(out, "No stories found.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tAGE\tTHEME\tTAGS\tCREATED")
				for _, rec := range res.Stories {
					m := rec.Metadata
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						rec.ID, m.Title, m.Age, m.Theme,
						strings.Join(m.Tags, ","),
						m.CreatedAt.Format("2006-01-02 15:04"),
					)
				}
				fmt.Fprintf(w, "\npage %d of %d (%d stories)\n", res.Page, res.TotalPages, res.Total)
				return w.Flush()
			})
		})
	},
}

func printStory(rec *types.StoryRecord) error {
	return render(os.Stdout, outputFormat, rec, func(w io.Writer) error {
		m := rec.Metadata
		fmt.Fprintf(w, "%s\n%s\n\n", m.Title, strings.Repeat("=", len([]rune(m.Title))))
		fmt.Fprintf(w, "ID:         %s\n", rec.ID)
		fmt.Fprintf(w, "Age:        %d (%s)\n", m.Age, m.Length)
		fmt.Fprintf(w, "Theme:      %s\n", m.Theme)
		fmt.Fprintf(w, "Tags:       %s\n", strings.Join(m.Tags, ", "))
		fmt.Fprintf(w, "Categories: %s\n", strings.Join(m.Categories, ", "))
		fmt.Fprintf(w, "Created:    %s\n", m.CreatedAt.Format(time.RFC3339))
		if m.LastEdited != nil {
			fmt.Fprintf(w, "Edited:     %s\n", m.LastEdited.Format(time.RFC3339))
		}
		if m.AudioURL != "" {
			fmt.Fprintf(w, "Audio:      %s (%s)\n", m.AudioURL, m.VoiceID)
		}
		fmt.Fprintf(w, "\n%s\n", rec.Text)
		return nil
	})
}

var storyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			rec, err := a.service.Get(ctx, types.StoryID(args[0]))
			if err != nil {
				return err
			}
			return printStory(rec)
		})
	},
}

var storyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a story and its audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.service.Delete(ctx, types.StoryID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Deleted story %s.\n", args[0])
			return nil
		})
	},
}

var storyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a story",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		in := story.GenerateInput{}
		in.Age, _ = f.GetInt("age")
		in.Theme, _ = f.GetString("theme")
		in.Prompt, _ = f.GetString("prompt")
		length, _ := f.GetString("length")
		in.Length = types.LengthClass(length)
		in.Title, _ = f.GetString("title")
		in.CustomTags, _ = f.GetStringSlice("tag")
		in.Categories, _ = f.GetStringSlice("category")
		in.Save, _ = f.GetBool("save")
		in.OwnerID = "cli"
		narrate, _ := f.GetBool("audio")
		if in.Prompt == "" {
			in.Prompt = "a bedtime story about " + in.Theme
		}

		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.service.Generate(ctx, in)
			if err != nil {
				return err
			}
			if res.Fallback {
				fmt.Fprintln(os.Stderr, "Warning: no model produced a story; showing the fallback text.")
			}
			rec := res.Record
			if narrate && res.Saved {
				url, err := a.service.GenerateAudio(ctx, story.AudioInput{StoryID: rec.ID})
				if err != nil {
					fmt.Fprintln(os.Stderr, "Warning: narration failed:", err)
				} else {
					rec.Metadata.AudioURL = url
				}
			}
			return printStory(rec)
		})
	},
}

var storyEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Revise a story with instructions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instructions, _ := cmd.Flags().GetString("instructions")
		regen, _ := cmd.Flags().GetBool("regenerate-audio")
		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.service.Edit(ctx, types.StoryID(args[0]), story.EditInput{
				Instructions:    instructions,
				RegenerateAudio: regen,
			})
			if err != nil {
				return err
			}
			if res.Fallback {
				fmt.Fprintln(os.Stderr, "Warning: the revision failed; the stored story is unchanged.")
			}
			if res.AudioError != "" {
				fmt.Fprintln(os.Stderr, "Warning: narration failed:", res.AudioError)
			}
			return printStory(res.Record)
		})
	},
}

var storyTagsCmd = &cobra.Command{
	Use:   "tags <id>",
	Short: "Add, remove or replace a story's tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var ops tags.Ops
		ops.Add, _ = f.GetStringSlice("add")
		ops.Remove, _ = f.GetStringSlice("remove")
		if f.Changed("replace") {
			ops.Replace, _ = f.GetStringSlice("replace")
			if ops.Replace == nil {
				ops.Replace = []string{}
			}
		}
		return withApp(func(ctx context.Context, a *app) error {
			updated, err := a.service.UpdateTags(ctx, types.StoryID(args[0]), ops)
			if err != nil {
				return err
			}
			return render(os.Stdout, outputFormat, updated, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strings.Join(updated, ", "))
				return err
			})
		})
	},
}

var storyCategoriesCmd = &cobra.Command{
	Use:   "categories <id> [category...]",
	Short: "Replace a story's categories (none clears them)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			updated, err := a.service.UpdateCategories(ctx, types.StoryID(args[0]), append([]string{}, args[1:]...))
			if err != nil {
				return err
			}
			return render(os.Stdout, outputFormat, updated, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strings.Join(updated, ", "))
				return err
			})
		})
	},
}

var storyAudioCmd = &cobra.Command{
	Use:   "audio <id>",
	Short: "Narrate a stored story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var voice tts.VoiceSpec
		voice.Name, _ = cmd.Flags().GetString("voice")
		voice.SpeakingRate, _ = cmd.Flags().GetFloat64("rate")
		return withApp(func(ctx context.Context, a *app) error {
			url, err := a.service.GenerateAudio(ctx, story.AudioInput{StoryID: types.StoryID(args[0]), Voice: voice})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, url)
			return nil
		})
	},
}

var storyBackfillCmd = &cobra.Command{
	Use:   "backfill-audio",
	Short: "Narrate every stored story that has no audio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		return withApp(func(ctx context.Context, a *app) error {
			n, err := a.service.BackfillAudio(ctx, tts.VoiceSpec{}, workers)
			fmt.Fprintf(os.Stdout, "Narrated %d stories.\n", n)
			return err
		})
	},
}

var storySweepCmd = &cobra.Command{
	Use:   "sweep-audio",
	Short: "Remove audio that belongs to no story",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, _ := cmd.Flags().GetDuration("retention")
		return withApp(func(ctx context.Context, a *app) error {
			if retention <= 0 {
				retention = a.cfg.TempAudioRetention()
			}
			n, err := a.service.SweepAudio(ctx, a.blobs, retention)
			fmt.Fprintf(os.Stdout, "Removed %d audio files.\n", n)
			return err
		})
	},
}

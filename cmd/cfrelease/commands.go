package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/cfrelease/internal/pipeline"
	"github.com/kingrea/cfrelease/internal/progress"
	"github.com/kingrea/cfrelease/internal/version"
)

var buildNoTest bool

var buildCmd = &cobra.Command{
	Use:   "build [project ...|all]",
	Short: "Build the release and stage it on the development site",
	Long: `Build clones or updates the intermediate and build repositories, picks the new
version, runs every configured build command, tags the result in the
intermediate repositories and copies the distribution to the development site.
Dependencies of a named project are always built too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := pipeline.NewBuild(env.deps(), pipeline.BuildOptions{Projects: args, NoTest: buildNoTest})
		if err != nil {
			return err
		}
		return b.Run(cmd.Context())
	},
}

var pushCmd = &cobra.Command{
	Use:   "push [release]",
	Short: "Promote the staged release to Maven Central, the live site and GitHub",
	Long: `Push checks the staged release and then publishes it. Without the "release"
argument it runs in test mode: every check and prompt is shown, but nothing is
deployed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		release := false
		if len(args) == 1 {
			if args[0] != "release" {
				return fmt.Errorf("unknown argument %q; the only argument push accepts is \"release\"", args[0])
			}
			release = true
		}
		p, err := pipeline.NewPush(env.deps(), pipeline.PushOptions{Release: release})
		if err != nil {
			return err
		}
		return p.Run(cmd.Context())
	},
}

var linksCmd = &cobra.Command{
	Use:   "links <site-url>",
	Short: "Run the link checker on a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.CheckLinks(cmd.Context(), env.deps(), args[0])
	},
}

var sanityCmd = &cobra.Command{
	Use:   "sanity <dev|live> <version>",
	Short: "Run the sanity checks against a published distribution",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, v := strings.ToLower(args[0]), args[1]
		if _, err := version.Parse(v); err != nil {
			return err
		}
		var url string
		switch site {
		case "dev":
			url = env.cfg.Release.DevSite.URL
		case "live":
			url = env.cfg.Release.LiveSite.URL
		default:
			return fmt.Errorf("unknown site %q; use dev or live", args[0])
		}
		return pipeline.Sanity(cmd.Context(), env.deps(), site, url, v)
	},
}

var nextVersionCmd = &cobra.Command{
	Use:         "next-version <version>",
	Short:       "Print the version that follows a release",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		next, err := version.Increment(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), next)
		return nil
	},
}

var statusLines int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a build is waiting to be pushed, and the recent journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		res, err := progress.New(env.ws.CompletionFlagPath()).Check()
		switch {
		case res.State == progress.StateMissing:
			fmt.Fprintln(out, "No build is waiting to be pushed.")
		case err != nil:
			fmt.Fprintf(out, "Build flag %s is present but unreadable: %v\n", res.Path, err)
		case res.Legacy:
			fmt.Fprintf(out, "A build finished (legacy flag %s, no details).\n", res.Path)
		default:
			rec := res.Record
			fmt.Fprintf(out, "Build of %s finished %s (run %s).\n", rec.Version, rec.CompletedAt.Format("2006-01-02 15:04"), rec.RunID)
			if len(rec.Projects) > 0 {
				fmt.Fprintf(out, "Projects: %s\n", strings.Join(rec.Projects, ", "))
			}
		}

		lines, total := env.journal.Tail(statusLines)
		if total == 0 {
			return nil
		}
		fmt.Fprintf(out, "\nJournal %s (last %d of %d entries):\n", env.journal.Path(), len(lines), total)
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().BoolVar(&buildNoTest, "notest", false, "skip build commands marked slow")
	statusCmd.Flags().IntVarP(&statusLines, "lines", "n", 15, "journal entries to show")
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/devinsight/devinsight/internal/client"
	"github.com/devinsight/devinsight/internal/model"
)

// analyticsFlags are the filters every analytics command accepts.
type analyticsFlags struct {
	start string
	end   string
	repos []string
}

func (f *analyticsFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "start date (YYYY-MM-DD or RFC 3339); defaults to 30 days ago")
	cmd.Flags().StringVar(&f.end, "end", "", "end date; defaults to now")
	cmd.Flags().StringSliceVar(&f.repos, "repo", nil, "repository id (repeatable); defaults to all active repositories")
}

func (f *analyticsFlags) params() client.AnalyticsParams {
	return client.AnalyticsParams{StartDate: f.start, EndDate: f.end, RepositoryIDs: f.repos}
}

func newAnalyticsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analytics",
		Aliases: []string{"stats"},
		Short:   "Report commit and merge request analytics",
	}
	cmd.AddCommand(
		newOverviewCmd(a),
		newCommitsCmd(a),
		newMergeRequestsCmd(a),
		newEfficiencyCmd(a),
		newDistributionCmd(a),
		newContributorsCmd(a),
		newActivityCmd(a),
		newDashboardCmd(a),
	)
	return cmd
}

func newOverviewCmd(a *app) *cobra.Command {
	var f analyticsFlags
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Headline totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.client.AnalyticsOverview(cmd.Context(), f.params())
			if err != nil {
				return err
			}
			return a.render(o, func(out io.Writer) error {
				return writeOverview(out, o)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func writeOverview(out io.Writer, o *model.Overview) error {
	t := newTable(out, "METRIC", "VALUE")
	t.row("period", o.Period.StartDate+" .. "+o.Period.EndDate)
	t.row("repositories", o.RepositoriesCount)
	t.row("commits", o.CommitsCount)
	t.row("merge requests", o.MergeRequestsCount)
	t.row("active contributors", o.ActiveContributors)
	t.row("lines added", o.CodeChanges.Additions)
	t.row("lines deleted", o.CodeChanges.Deletions)
	t.row("net change", o.CodeChanges.NetChanges)
	return t.flush()
}

func newCommitsCmd(a *app) *cobra.Command {
	var (
		f      analyticsFlags
		group  string
		author string
	)
	cmd := &cobra.Command{
		Use:   "commits",
		Short: "Commit timeline or per-author breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := f.params()
			p.GroupBy = group
			p.AuthorEmail = author
			res, err := a.client.CommitAnalytics(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.render(res, func(out io.Writer) error {
				if len(res.Authors) > 0 {
					writeAuthors(out, res.Authors)
				} else {
					writeTimeline(out, res.Timeline, false)
				}
				s := res.Summary
				_, err := fmt.Fprintf(out, "\n%d commits by %d contributors, +%d -%d\n",
					s.TotalCommits, s.Contributors, s.TotalAdditions, s.TotalDeletions)
				return err
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&group, "group-by", "day", "day, week, month, author or repository")
	cmd.Flags().StringVar(&author, "author", "", "only commits by this email")
	return cmd
}

func newMergeRequestsCmd(a *app) *cobra.Command {
	var (
		f     analyticsFlags
		group string
		st    string
	)
	cmd := &cobra.Command{
		Use:     "mrs",
		Aliases: []string{"merge-requests"},
		Short:   "Merge request statistics",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := f.params()
			p.GroupBy = group
			p.State = st
			res, err := a.client.MergeRequestAnalytics(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.render(res, func(out io.Writer) error {
				switch {
				case len(res.Authors) > 0:
					writeAuthors(out, res.Authors)
				case len(res.States) > 0:
					t := newTable(out, "STATE", "COUNT")
					for _, s := range res.States {
						t.row(s.State, s.Count)
					}
					_ = t.flush()
				default:
					writeTimeline(out, res.Timeline, true)
				}
				s := res.Summary
				_, err := fmt.Fprintf(out, "\n%d total: %d opened, %d merged, %d closed (merge rate %.1f%%)\n",
					s.Total, s.Opened, s.Merged, s.Closed, s.MergeRate)
				return err
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&group, "group-by", "day", "day, week, month, author or state")
	cmd.Flags().StringVar(&st, "state", "", "opened, merged or closed")
	return cmd
}

func writeTimeline(out io.Writer, rows []model.PeriodCount, merged bool) {
	headers := []string{"PERIOD", "COUNT", "ADDED", "DELETED"}
	if merged {
		headers = append(headers, "MERGED")
	}
	t := newTable(out, headers...)
	for _, r := range rows {
		if merged {
			t.row(r.Period, r.Count, r.Additions, r.Deletions, r.Merged)
		} else {
			t.row(r.Period, r.Count, r.Additions, r.Deletions)
		}
	}
	_ = t.flush()
}

func writeAuthors(out io.Writer, rows []model.AuthorStats) {
	t := newTable(out, "AUTHOR", "EMAIL", "COMMITS", "MRS", "ADDED", "DELETED", "FILES")
	for _, r := range rows {
		t.row(orDash(r.AuthorName), r.AuthorEmail, r.Commits, r.MergeRequests, r.Additions, r.Deletions, r.FilesChanged)
	}
	_ = t.flush()
}

func newEfficiencyCmd(a *app) *cobra.Command {
	var (
		f     analyticsFlags
		group string
		cfg   = model.DefaultScoreConfig()
	)
	cmd := &cobra.Command{
		Use:   "efficiency",
		Short: "Weighted productivity scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := f.params()
			p.GroupBy = group
			for _, name := range []string{"commit-weight", "mr-weight", "addition-weight", "deletion-weight", "file-weight"} {
				if cmd.Flags().Changed(name) {
					p.ScoreConfig = &cfg
					break
				}
			}
			res, err := a.client.EfficiencyScore(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.render(res, func(out io.Writer) error {
				t := newTable(out, "RANK", "NAME", "SCORE", "COMMITS", "MRS", "ADDED", "DELETED", "FILES")
				for i, s := range res.Items {
					name := s.AuthorEmail
					if s.RepositoryName != "" {
						name = s.RepositoryName
					}
					t.row(i+1, name, fmt.Sprintf("%.2f", s.Score), s.Stats.Commits, s.Stats.MergeRequests,
						s.Stats.Additions, s.Stats.Deletions, s.Stats.FilesChanged)
				}
				return t.flush()
			})
		},
	}
	f.bind(cmd)
	fl := cmd.Flags()
	fl.StringVar(&group, "group-by", "author", "author or repository")
	fl.Float64Var(&cfg.CommitWeight, "commit-weight", cfg.CommitWeight, "score weight per commit")
	fl.Float64Var(&cfg.MergeRequestWeight, "mr-weight", cfg.MergeRequestWeight, "score weight per merge request")
	fl.Float64Var(&cfg.AdditionWeight, "addition-weight", cfg.AdditionWeight, "score weight per added line")
	fl.Float64Var(&cfg.DeletionWeight, "deletion-weight", cfg.DeletionWeight, "score weight per deleted line")
	fl.Float64Var(&cfg.FileChangeWeight, "file-weight", cfg.FileChangeWeight, "score weight per changed file")
	return cmd
}

func newDistributionCmd(a *app) *cobra.Command {
	var (
		f         analyticsFlags
		kind      string
		dimension string
	)
	cmd := &cobra.Command{
		Use:   "distribution",
		Short: "Activity by hour, weekday or month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := f.params()
			p.Type = kind
			p.Dimension = dimension
			res, err := a.client.TimeDistribution(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.render(res, func(out io.Writer) error {
				t := newTable(out, "BUCKET", "COUNT")
				for _, b := range res.Distribution {
					t.row(b.Label, b.Value)
				}
				if err := t.flush(); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "\ntotal %d, peak %s\n", res.Total, orDash(res.PeakTime))
				return err
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&kind, "type", "commits", "commits or merge_requests")
	cmd.Flags().StringVar(&dimension, "dimension", "hour", "hour, weekday or month")
	return cmd
}

func newContributorsCmd(a *app) *cobra.Command {
	var (
		f     analyticsFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "contributors",
		Short: "Top contributors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := f.params()
			p.Limit = limit
			res, err := a.client.Contributors(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.render(res, func(out io.Writer) error {
				t := newTable(out, "AUTHOR", "EMAIL", "COMMITS", "MRS", "ADDED", "DELETED", "LAST ACTIVE")
				for _, c := range res {
					t.row(orDash(c.AuthorName), c.AuthorEmail, c.CommitsCount, c.MergeRequestsCount,
						c.Additions, c.Deletions, formatTime(c.LastActiveAt))
				}
				return t.flush()
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 10, "number of contributors (max 100)")
	return cmd
}

func newActivityCmd(a *app) *cobra.Command {
	var (
		repos  []string
		cursor string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Recent commits and merge requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.client.Activity(cmd.Context(), client.AnalyticsParams{
				RepositoryIDs: repos,
				Cursor:        cursor,
				Limit:         limit,
			})
			if err != nil {
				return err
			}
			return a.render(page, func(out io.Writer) error {
				writeActivity(out, page.Items)
				if page.HasMore {
					_, _ = fmt.Fprintf(out, "\nmore: --cursor %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&repos, "repo", nil, "repository id (repeatable)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().IntVar(&limit, "limit", 20, "items per page")
	return cmd
}

func writeActivity(out io.Writer, items []*model.ActivityRecord) {
	t := newTable(out, "WHEN", "KIND", "REPOSITORY", "REF", "AUTHOR", "TITLE")
	for _, r := range items {
		t.row(formatTime(&r.OccurredAt), r.Kind, r.RepositoryName, r.Reference, orDash(r.AuthorName), truncate(r.Title, 60))
	}
	_ = t.flush()
}

func newDashboardCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Overview, team productivity and recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.client.Dashboard(cmd.Context(), days)
			if err != nil {
				return err
			}
			return a.render(d, func(out io.Writer) error {
				if err := writeOverview(out, &d.Overview); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "\nTeam (%d days): %d members, %.1f commits/member, %.1f commits/day\n",
					d.Days, len(d.Team.Members), d.Team.AvgCommitsPerMember, d.Team.AvgCommitsPerDay)
				if len(d.RecentRepositories) > 0 {
					_, _ = fmt.Fprintln(out)
					t := newTable(out, "REPOSITORY", "COMMITS", "MRS", "LAST SYNC")
					for _, r := range d.RecentRepositories {
						t.row(r.Repository.Name, r.CommitsCount, r.MergeRequestsCount, formatTime(r.LastSyncAt))
					}
					_ = t.flush()
				}
				if len(d.RecentActivity) > 0 {
					_, _ = fmt.Fprintln(out)
					items := make([]*model.ActivityRecord, len(d.RecentActivity))
					for i := range d.RecentActivity {
						items[i] = &d.RecentActivity[i]
					}
					writeActivity(out, items)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "analysis window in days (1-365)")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devinsight/devinsight/internal/client"
	"github.com/devinsight/devinsight/internal/handler/dto"
)

func newReposCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "repos",
		Aliases: []string{"repositories", "repo"},
		Short:   "Manage tracked repositories",
	}
	cmd.AddCommand(
		newReposListCmd(a),
		newReposAddCmd(a),
		newReposDeleteCmd(a),
		newReposSyncCmd(a),
		newReposStatusCmd(a),
		newReposTrackCmd(a, true),
		newReposTrackCmd(a, false),
	)
	return cmd
}

func newReposListCmd(a *app) *cobra.Command {
	var (
		p         client.ListParams
		tracked   bool
		untracked bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case tracked && untracked:
				return fmt.Errorf("--tracked and --untracked are mutually exclusive")
			case tracked, untracked:
				v := tracked
				p.IsTracked = &v
			}
			page, err := a.client.ListRepositories(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.render(page, func(out io.Writer) error {
				t := newTable(out, "ID", "NAME", "PLATFORM", "TRACKED", "SYNC", "LAST SYNC", "COMMITS", "MRS")
				for _, r := range page.Items {
					t.row(r.ID, r.Name, r.Platform, r.IsTracked, r.SyncStatus, formatTime(r.LastSyncAt),
						r.Stats.CommitsCount, r.Stats.MergeRequestsCount)
				}
				if err := t.flush(); err != nil {
					return err
				}
				pg := page.Pagination
				_, err := fmt.Fprintf(out, "\npage %d of %d (%d total)\n", pg.Page, pg.TotalPages, pg.Total)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&p.Page, "page", 1, "page number")
	f.IntVar(&p.PerPage, "per-page", 20, "items per page (max 100)")
	f.StringVar(&p.Platform, "platform", "", "filter by platform: github, gitlab or yunxiao")
	f.StringVar(&p.Search, "search", "", "substring match on name or URL")
	f.BoolVar(&tracked, "tracked", false, "only tracked repositories")
	f.BoolVar(&untracked, "untracked", false, "only untracked repositories")
	return cmd
}

func newReposAddCmd(a *app) *cobra.Command {
	var (
		in        dto.CreateRepositoryRequest
		untracked bool
	)
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a repository; the access token is prompted for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.URL = args[0]
			if in.Name == "" {
				in.Name = repoNameFromURL(in.URL)
			}
			if untracked {
				v := false
				in.IsTracked = &v
			}
			key, err := a.readPassword("Access token: ")
			if err != nil {
				return fmt.Errorf("read access token: %w", err)
			}
			in.APIKey = key

			repo, err := a.client.CreateRepository(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.render(repo, func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "Added %s (%s) as %s\n", repo.Name, repo.Platform, repo.ID)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "display name (defaults to the last URL segment)")
	f.StringVar(&in.Platform, "platform", "", "github, gitlab or yunxiao (detected from the URL when empty)")
	f.StringVar(&in.ProjectID, "project-id", "", "Yunxiao repository id")
	f.StringVar(&in.OrganizationID, "org-id", "", "Yunxiao organization id")
	f.StringVar(&in.APIBaseURL, "api-base-url", "", "API base URL for self-hosted instances")
	f.BoolVar(&untracked, "untracked", false, "add without tracking")
	return cmd
}

func newReposDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a repository and its synced data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteRepository(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.streams.Out, "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newReposSyncCmd(a *app) *cobra.Command {
	var (
		in      dto.SyncRequest
		skipMRs bool
		skipCmt bool
	)
	cmd := &cobra.Command{
		Use:   "sync <id>",
		Short: "Sync commits and merge requests from the platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if skipMRs && skipCmt {
				return fmt.Errorf("nothing to sync: both --no-commits and --no-merge-requests given")
			}
			if skipCmt {
				v := false
				in.SyncCommits = &v
			}
			if skipMRs {
				v := false
				in.SyncMergeRequests = &v
			}
			res, err := a.client.SyncRepository(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			if res.Job != nil {
				return a.render(res.Job, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Queued sync job %s\n", res.Job.JobID)
					return err
				})
			}
			return a.render(res.Result, func(out io.Writer) error {
				r := res.Result
				if r == nil {
					return nil
				}
				_, _ = fmt.Fprintf(out, "Commits: %d synced, %d new\n", r.CommitsSynced, r.CommitsAdded)
				_, _ = fmt.Fprintf(out, "Merge requests: %d synced, %d new\n", r.MergeRequestsSynced, r.MergeRequestsAdded)
				for _, e := range r.Errors {
					_, _ = fmt.Fprintf(out, "warning: %s\n", e)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&in.Force, "force", false, "full resync instead of incremental")
	f.BoolVar(&in.Async, "async", false, "queue the sync and return immediately")
	f.BoolVar(&skipCmt, "no-commits", false, "skip commits")
	f.BoolVar(&skipMRs, "no-merge-requests", false, "skip merge requests")
	return cmd
}

func newReposStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync state of every repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := a.client.SyncStatuses(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(statuses, func(out io.Writer) error {
				t := newTable(out, "ID", "NAME", "STATUS", "LAST SYNC", "ERROR")
				for _, s := range statuses {
					t.row(s.RepositoryID, s.Name, s.Status, formatTime(s.LastSyncAt), orDash(s.LastSyncError))
				}
				return t.flush()
			})
		},
	}
}

func newReposTrackCmd(a *app, tracked bool) *cobra.Command {
	use, short := "untrack <id>", "Stop including a repository in scheduled syncs"
	if tracked {
		use, short = "track <id>", "Include a repository in scheduled syncs"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.client.SetTracked(cmd.Context(), args[0], tracked)
			if err != nil {
				return err
			}
			return a.render(repo, func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "%s tracked=%t\n", repo.Name, repo.IsTracked)
				return err
			})
		},
	}
}

func repoNameFromURL(raw string) string {
	s := strings.TrimSuffix(strings.TrimRight(raw, "/"), ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

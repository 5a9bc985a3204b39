package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/DataSteward/internal/app"
	"github.com/dharsanguruparan/DataSteward/internal/model"
)

func newSiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage the site registry",
	}
	cmd.AddCommand(newSiteListCmd(), newSiteAddCmd())
	return cmd
}

func newSiteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				sites, err := a.Sites.Sites(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "HPO_ID\tNAME\tBUCKET\tCONTACTS")
				for _, s := range sites {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.HPOID, s.Name, s.Bucket, strings.Join(s.Contacts, ","))
				}
				return w.Flush()
			})
		},
	}
}

func newSiteAddCmd() *cobra.Command {
	var site model.Site
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if site.HPOID == "" || site.Bucket == "" {
				return fmt.Errorf("--hpo-id and --bucket are required")
			}
			if site.Name == "" {
				site.Name = site.HPOID
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Sites.SaveSite(cmd.Context(), site)
			})
		},
	}
	cmd.Flags().StringVar(&site.HPOID, "hpo-id", "", "Site identifier")
	cmd.Flags().StringVar(&site.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&site.Bucket, "bucket", "", "Submission bucket")
	cmd.Flags().IntVar(&site.DisplayOrder, "display-order", 0, "Position in site listings")
	cmd.Flags().StringSliceVar(&site.Contacts, "contact", nil, "Report e-mail recipient (repeatable)")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [hpo_id]",
		Short: "Show recent submission runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hpoID := ""
			if len(args) == 1 {
				hpoID = args[0]
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				runs, err := a.Runs.Recent(cmd.Context(), hpoID, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tHPO_ID\tSTATUS\tFOLDER\tERROR")
				for _, r := range runs {
					folder := ""
					if r.Folder != nil {
						folder = *r.Folder
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", r.StartedAt.Format("2006-01-02 15:04"), r.HPOID, r.Status, folder, r.ErrorOccurred)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Create or remove the configured datasets and buckets",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "setup",
			Short: "Create every configured dataset and bucket",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app.App) error {
					ctx := cmd.Context()
					for _, ds := range a.Datasets() {
						if err := a.Warehouse.CreateDataset(ctx, ds); err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "dataset %s ready\n", ds)
					}
					buckets, err := a.Buckets(ctx)
					if err != nil {
						return err
					}
					for _, b := range buckets {
						if err := a.Objects.CreateBucket(ctx, b); err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "bucket %s ready\n", b)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "teardown",
			Short: "Delete every configured dataset and bucket",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app.App) error {
					ctx := cmd.Context()
					// buckets first: the site list lives in the lookup dataset
					buckets, err := a.Buckets(ctx)
					if err != nil {
						return err
					}
					if !confirmTwice(cmd.InOrStdin(), cmd.OutOrStdout(), append(a.Datasets(), buckets...)) {
						fmt.Fprintln(cmd.OutOrStdout(), "aborted")
						return nil
					}
					for _, b := range buckets {
						if err := a.Objects.DeleteBucket(ctx, b); err != nil {
							return err
						}
					}
					for _, ds := range a.Datasets() {
						if err := a.Warehouse.DeleteDataset(ctx, ds); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func newCleanDatasetsCmd() *cobra.Command {
	var substrings []string
	cmd := &cobra.Command{
		Use:   "clean-datasets",
		Short: "Delete datasets whose names contain any of the given substrings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(substrings) == 0 {
				return fmt.Errorf("at least one -n substring is required")
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				all, err := a.Warehouse.ListDatasets(ctx)
				if err != nil {
					return err
				}
				matched := matchDatasets(all, substrings)
				if len(matched) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no matching datasets")
					return nil
				}
				if !confirmTwice(cmd.InOrStdin(), cmd.OutOrStdout(), matched) {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
				for _, ds := range matched {
					if err := a.Warehouse.DeleteDataset(ctx, ds); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ds)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&substrings, "name-substring", "n", nil, "Substring to match (repeatable)")
	return cmd
}

// matchDatasets returns the sorted datasets containing any of substrings.
func matchDatasets(datasets, substrings []string) []string {
	var out []string
	for _, ds := range datasets {
		for _, s := range substrings {
			if s != "" && strings.Contains(ds, s) {
				out = append(out, ds)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// confirmTwice lists targets and asks for two affirmative answers.
func confirmTwice(in io.Reader, out io.Writer, targets []string) bool {
	fmt.Fprintln(out, "The following will be deleted:")
	for _, t := range targets {
		fmt.Fprintf(out, "  %s\n", t)
	}
	r := bufio.NewReader(in)
	for _, prompt := range []string{"Are you sure you want to delete these? [y/N] ", "This cannot be undone. Continue? [y/N] "} {
		fmt.Fprint(out, prompt)
		line, _ := r.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			return false
		}
	}
	return true
}

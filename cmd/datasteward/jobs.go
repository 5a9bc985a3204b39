package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/DataSteward/internal/app"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
	"github.com/dharsanguruparan/DataSteward/internal/retraction"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

func newValidateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "validate <hpo_id>",
		Short: "Validate the latest submission of one site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Pipeline.ProcessSite(cmd.Context(), args[0], force)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "Reprocess a folder that was already processed")
	return cmd
}

func newValidateAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-all",
		Short: "Validate every registered site",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				failed, err := a.Pipeline.ProcessAll(cmd.Context())
				if err != nil {
					return err
				}
				if len(failed) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "failed sites: %s\n", strings.Join(failed, ", "))
				}
				return nil
			})
		},
	}
}

func newCopyCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "copy <hpo_id>",
		Short: "Copy a site bucket into the DRC bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if async {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				client := asynq.NewClient(asynq.RedisClientOpt{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				defer client.Close()
				return enqueueCopy(cmd.Context(), client, args[0], cmd.OutOrStdout())
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Pipeline.CopyFiles(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "copied %d objects\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Enqueue the copy for the worker instead of running it here")
	return cmd
}

func enqueueCopy(ctx context.Context, client queue.Enqueuer, hpoID string, out io.Writer) error {
	id, err := queue.EnqueueCopyFiles(ctx, client, hpoID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued copy for %s as task %s\n", hpoID, id)
	return nil
}

func newUnionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "union",
		Short: "Build the unioned EHR dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Union.Run(cmd.Context())
			})
		},
	}
}

func newRetractCmd() *cobra.Command {
	var (
		hpoID    string
		pidTable string
		datasets []string
		kind     string
		folder   string
	)
	cmd := &cobra.Command{
		Use:   "retract",
		Short: "Retract participants from datasets and a site bucket",
		Long: `Removes the participants listed in a pid table (dataset.table with a person_id
column) from every table with a person_id column in the given datasets. only_ehr
leaves rdr datasets untouched. With --hpo-id and --folder the site's submission files
are rewritten as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				r := a.Config.Retraction
				req := retraction.Request{
					HPOID:    firstNonEmpty(hpoID, r.HPOID),
					Datasets: datasets,
					Type:     firstNonEmpty(kind, r.Type),
					Folder:   firstNonEmpty(folder, r.Folder),
				}
				if len(req.Datasets) == 0 {
					req.Datasets = r.Datasets
				}
				ds, table, _ := strings.Cut(firstNonEmpty(pidTable, r.PIDTable), ".")
				req.PIDTable = warehouse.TableRef{Dataset: ds, Table: table}
				return a.Retractor.Run(cmd.Context(), req)
			})
		},
	}
	cmd.Flags().StringVar(&hpoID, "hpo-id", "", "Site whose tables and bucket are retracted (RETRACTION_HPO_ID)")
	cmd.Flags().StringVar(&pidTable, "pid-table", "", "dataset.table listing person_id values (RETRACTION_PID_TABLE_ID)")
	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "Datasets to retract from (RETRACTION_DATASET_IDS)")
	cmd.Flags().StringVar(&kind, "type", "", "rdr_and_ehr or only_ehr (RETRACTION_TYPE)")
	cmd.Flags().StringVar(&folder, "folder", "", "Submission folder, all_folders or none (RETRACTION_SUBMISSION_FOLDER)")
	cmd.AddCommand(newDeactivatedCmd())
	return cmd
}

func newDeactivatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivated <dataset> <deactivated_table>",
		Short: "Remove records dated after each participant's deactivation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, table, ok := strings.Cut(args[1], ".")
			if !ok {
				return fmt.Errorf("deactivated table must be dataset.table, got %q", args[1])
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				counts, err := a.Retractor.RemoveDeactivated(cmd.Context(), args[0], warehouse.TableRef{Dataset: ds, Table: table})
				if err != nil {
					return err
				}
				for t, n := range counts {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", t, n)
				}
				return nil
			})
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

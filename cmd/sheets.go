package cmd

import (
	"fmt"
	"os"
	"time"

	"lab_key_tracker/db"
	"lab_key_tracker/importer"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	imp := &cobra.Command{
		Use:   "import",
		Short: "Load keys or teachers from an xlsx sheet",
	}
	run := func(kind string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			repo, closeFn, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var res *importer.Result
			if kind == "keys" {
				res, err = importer.ImportKeys(cmd.Context(), repo, f)
			} else {
				res, err = importer.ImportTeachers(cmd.Context(), repo, f)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d created, %d updated, %d skipped\n", kind, res.Created, res.Updated, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintln(out, "  "+e.Error())
			}
			return nil
		}
	}
	imp.AddCommand(
		&cobra.Command{Use: "keys <file.xlsx>", Short: "Import keys (Key ID, Lab)", Args: cobra.ExactArgs(1), RunE: run("keys")},
		&cobra.Command{Use: "teachers <file.xlsx>", Short: "Import teachers (ID, Name, Department, Photo, Password)", Args: cobra.ExactArgs(1), RunE: run("teachers")},
	)
	return imp
}

func newExportCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "export <out.xlsx>",
		Short: "Write the transaction ledger to an xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			repo, closeFn, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := repo.ListTransactions(cmd.Context(), db.TransactionQuery{Status: status, Now: time.Now().UTC()})
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := importer.WriteLedger(f, res.Items, time.Local); err != nil {
				f.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d transactions to %s\n", len(res.Items), args[0])
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "open, returned or overdue")
	return cmd
}

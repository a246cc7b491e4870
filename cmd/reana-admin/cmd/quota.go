package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kounelisagis/reana-server/internal/scheduler/repository"
)

func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and edit per-user resource quotas",
	}
	cmd.AddCommand(quotaShowCmd(), quotaSetLimitCmd())
	return cmd
}

func quotaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <owner>",
		Short: "Show an owner's quota limits and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := redisClient(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ledger := repository.NewRedisQuotaLedger(db, nil)
			account, err := ledger.GetAccount(args[0])
			if err != nil {
				return err
			}

			kinds := map[string]bool{}
			for kind := range account.Limits {
				kinds[kind] = true
			}
			for kind := range account.Used {
				kinds[kind] = true
			}
			sorted := make([]string, 0, len(kinds))
			for kind := range kinds {
				sorted = append(sorted, kind)
			}
			sort.Strings(sorted)

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tUSED\tLIMIT")
			for _, kind := range sorted {
				limit := "unlimited"
				if l, ok := account.Limits[kind]; ok {
					limit = strconv.FormatInt(l, 10)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", kind, account.Used[kind], limit)
			}
			return w.Flush()
		},
	}
}

func quotaSetLimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-limit <owner> <resource> <limit>",
		Short: "Set an owner's limit for a resource kind",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || limit < 0 {
				return fmt.Errorf("limit %q must be a non-negative integer", args[2])
			}

			db, err := redisClient(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ledger := repository.NewRedisQuotaLedger(db, nil)
			if err := ledger.SetLimits(args[0], map[string]int64{args[1]: limit}); err != nil {
				return err
			}
			fmt.Printf("set %s limit for %s to %d\n", args[1], args[0], limit)
			return nil
		},
	}
}

package cmd

import (
	"github.com/go-redis/redis"
	"github.com/spf13/cobra"
)

// RootCmd is the operator command line for inspecting and repairing the
// scheduler's queue and quota state directly in Redis. It is an
// administrative tool; normal submission and withdrawal go through the
// message interface.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reana-admin",
		Short: "Operator tooling for the workflow scheduler",
	}
	cmd.PersistentFlags().String("redis", "localhost:6379", "Redis address host:port")

	cmd.AddCommand(
		queueCmd(),
		quotaCmd(),
	)
	return cmd
}

func redisClient(cmd *cobra.Command) (redis.UniversalClient, error) {
	addr, err := cmd.Flags().GetString("redis")
	if err != nil {
		return nil, err
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}}), nil
}

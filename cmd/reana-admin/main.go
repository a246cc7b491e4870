package main

import (
	"os"

	"github.com/kounelisagis/reana-server/cmd/reana-admin/cmd"
	"github.com/kounelisagis/reana-server/internal/common"
)

func main() {
	common.ConfigureLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

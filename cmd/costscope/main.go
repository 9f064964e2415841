package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "costscope",
	Short: "costscope: security cost reporting for cloud subscriptions",
	Long:  "costscope serves cost reports for the subscriptions a caller can see, authenticating every request with the caller's own bearer token and querying the cloud management APIs on their behalf.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (see configs/costscope.yaml); defaults and environment apply when empty")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

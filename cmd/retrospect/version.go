package main

import (
	"github.com/alvmarrod/retrospect/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("retrospect version %s\n", version.Version)
		},
	}
}

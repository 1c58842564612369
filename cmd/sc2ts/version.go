package main

import (
	"github.com/carbocation/sarscov2ts/compileinfo"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			compileinfo.Fprint(cmd.OutOrStdout())
		},
	}
}

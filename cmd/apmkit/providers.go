package main

import (
	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/andrewh/apmkit/pkg/apm/providers/httpjson"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered APM providers",
		Run: func(cmd *cobra.Command, args []string) {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Provider", "Default"})
			for _, name := range apm.Names() {
				def := ""
				if name == httpjson.Name {
					def = "*"
				}
				t.AppendRow(table.Row{name, def})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
		},
	}
}

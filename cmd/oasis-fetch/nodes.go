package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadaphaq/oasis-api-tool/internal/downloader"
	"github.com/wadaphaq/oasis-api-tool/internal/nodes"
)

func newNodesCmd(a *app) *cobra.Command {
	var input, column, sheet, jsonPath, csvPath string
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Extract the node list from a location spreadsheet",
		Long: "Read the node column of a CAISO location list (.xlsx or .csv) and write the unique " +
			"node ids as JSON and CSV. The JSON file is what " + downloader.AllSources + " expands to. " +
			"Legacy .xls workbooks must be saved as .xlsx or .csv first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.cfg.Nodes
			set := cmd.Flags().Changed
			if set("input") {
				c.Input = input
			}
			if set("column") {
				c.Column = column
			}
			if set("sheet") {
				c.Sheet = sheet
			}
			if set("json") {
				c.JSON = jsonPath
			}
			if set("csv") {
				c.CSV = csvPath
			}

			list, err := nodes.Extract(c.Input, nodes.Options{Column: c.Column, Sheet: c.Sheet}, c.JSON, c.CSV)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d nodes to %s and %s\n", len(list), c.JSON, c.CSV)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Location spreadsheet (.xlsx or .csv)")
	cmd.Flags().StringVar(&column, "column", "", "Column holding node ids")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name, default first sheet")
	cmd.Flags().StringVar(&jsonPath, "json", "", "JSON output path")
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV output path")
	return cmd
}

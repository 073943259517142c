package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/TacoContent/tacobot/swaggersync"
	"github.com/spf13/cobra"
)

var (
	swaggerDir         string
	swaggerFile        string
	swaggerCheck       bool
	swaggerFix         bool
	swaggerShowOrphans bool
	swaggerPrune       bool
)

var swaggerSyncCmd = &cobra.Command{
	Use:   "swagger-sync",
	Short: "Sync handler annotations with the committed OpenAPI document",
	Long: "Scans HTTP handler doc comments for tacobot:openapi " +
		"annotations and compares them against the committed OpenAPI " +
		"document. With --check, exits 2 when the document is out of " +
		"date; with --fix, rewrites it.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()

		annotations, err := swaggersync.ScanDir(swaggerDir)
		if err != nil {
			log.Fatalf("error scanning %s: %v", swaggerDir, err)
		}
		doc, err := swaggersync.LoadDocument(swaggerFile)
		if err != nil {
			log.Fatalf("error loading %s: %v", swaggerFile, err)
		}

		diff := swaggersync.Compare(doc, annotations)

		for _, a := range diff.Added {
			fmt.Fprintf(
				out,
				"missing: %s (%s:%d %s)\n",
				a.Key(),
				a.File,
				a.Line,
				a.FuncName,
			)
		}
		for _, a := range diff.Changed {
			fmt.Fprintf(
				out,
				"changed: %s (%s:%d %s)\n",
				a.Key(),
				a.File,
				a.Line,
				a.FuncName,
			)
		}
		if swaggerShowOrphans || swaggerPrune {
			for _, orphan := range diff.Orphans {
				fmt.Fprintf(out, "orphan: %s\n", orphan)
			}
		}

		switch {
		case swaggerFix:
			swaggersync.Apply(doc, annotations, swaggerPrune)
			if err = doc.Write(swaggerFile); err != nil {
				log.Fatalf("error writing %s: %v", swaggerFile, err)
			}
			fmt.Fprintf(
				out,
				"wrote %s (%d operations)\n",
				swaggerFile,
				len(annotations),
			)
		case swaggerCheck:
			if !diff.InSync() {
				fmt.Fprintf(
					out,
					"%s is out of date (run 'swagger-sync --fix')\n",
					swaggerFile,
				)
				os.Exit(2)
			}
			fmt.Fprintf(out, "%s is up to date\n", swaggerFile)
		default:
			fmt.Fprintf(
				out,
				"%d annotated operation(s), %d missing, %d changed, %d orphan(s)\n",
				len(annotations),
				len(diff.Added),
				len(diff.Changed),
				len(diff.Orphans),
			)
		}
	},
}

func init() {
	swaggerSyncCmd.Flags().StringVar(
		&swaggerDir,
		"dir",
		"./tacobot",
		"Directory to scan for annotated handlers",
	)
	swaggerSyncCmd.Flags().StringVar(
		&swaggerFile,
		"file",
		".swagger.v1.yaml",
		"OpenAPI document to sync",
	)
	swaggerSyncCmd.Flags().BoolVar(
		&swaggerCheck,
		"check",
		false,
		"Exit 2 if the document is out of date",
	)
	swaggerSyncCmd.Flags().BoolVar(
		&swaggerFix,
		"fix",
		false,
		"Rewrite the document from the annotations",
	)
	swaggerSyncCmd.Flags().BoolVar(
		&swaggerShowOrphans,
		"show-orphans",
		false,
		"List document operations with no matching annotation",
	)
	swaggerSyncCmd.Flags().BoolVar(
		&swaggerPrune,
		"prune",
		false,
		"With --fix, remove orphaned operations",
	)
	rootCmd.AddCommand(swaggerSyncCmd)
}

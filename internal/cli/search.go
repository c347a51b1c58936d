package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aktenwerk/aktenwerk/internal/store"
)

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over archived document text",
		Long: `Full-text search over archived document text.

Matches the extracted text stored at confirmation time. The index is
populated in the background after migration; a search during that
window just returns fewer hits. Requires a binary built with the
sqlite fts5 module (-tags fts5).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

// hitView is one search result row.
type hitView struct {
	FolderKdNr string `json:"kdnr,omitempty"`
	Folder     string `json:"folder"`
	DocType    string `json:"doc_type"`
	DocDate    string `json:"doc_date"`
}

func runSearch(opts *RootOptions, query string, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.store.SearchDocuments(cmd.Context(), query)
	if errors.Is(err, store.ErrSearchUnavailable) {
		return NewExitError(ExitFailure, "full-text search requires a build with -tags fts5")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "searching documents", err)
	}

	hits := make([]hitView, 0, len(docs))
	for _, d := range docs {
		folder, err := a.store.FolderByID(cmd.Context(), d.FolderID)
		if err != nil {
			return WrapExitError(ExitCommandError, "resolving folder", err)
		}
		hits = append(hits, hitView{
			FolderKdNr: folder.KdNr,
			Folder:     folder.DisplayName,
			DocType:    d.DocType,
			DocDate:    d.DocDate,
		})
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"query": query, "hits": hits})
	}
	if len(hits) == 0 {
		fmt.Fprintln(formatter.Writer, "No matches.")
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(formatter.Writer, "%s %s  %s (KdNr %s)\n", h.DocType, h.DocDate, h.Folder, h.FolderKdNr)
	}
	return nil
}

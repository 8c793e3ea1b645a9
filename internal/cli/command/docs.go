package command

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatdesk/internal/cli/connection"
	"github.com/yndnr/chatdesk/internal/core/domain"
)

// DocsCommand returns the docs subcommand group.
func DocsCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:    "docs",
		Aliases: []string{"documents"},
		Usage:   "Manage the document library",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List documents",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "page",
						Value: 1,
						Usage: "Page number",
					},
					&cli.IntFlag{
						Name:  "size",
						Value: connection.DefaultPageSize,
						Usage: "Page size",
					},
				},
				Action: docsList(rt),
			},
			{
				Name:      "upload",
				Aliases:   []string{"add"},
				Usage:     "Upload a document (" + connection.AllowedExtensions() + ")",
				ArgsUsage: "FILE",
				Action:    docsUpload(rt),
			},
			{
				Name:      "show",
				Usage:     "Show one document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    docsShow(rt),
			},
			{
				Name:      "update",
				Usage:     "Replace the content of a document",
				ArgsUsage: "DOCUMENT_ID FILE",
				Action:    docsUpdate(rt),
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    docsDelete(rt),
			},
		},
	}
}

// docsClient resumes the session and returns a Documents API client bound to it.
func (rt *runtime) docsClient(c *cli.Context) (*connection.DocumentsClient, error) {
	sm, err := rt.Session(c.Context)
	if err != nil {
		return nil, err
	}
	return rt.conns.Documents(sm), nil
}

func docsList(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		docs, err := rt.docsClient(c)
		if err != nil {
			return err
		}
		page, err := docs.List(c.Context, c.Int("page"), c.Int("size"))
		if err != nil {
			return err
		}
		if rt.printer.Format().Structured() {
			return rt.printer.Print(page)
		}
		if len(page.Documents) == 0 {
			rt.printer.Notice("No documents on page %d.", page.Page)
			return nil
		}
		if err := rt.printer.Print(page.Documents); err != nil {
			return err
		}
		rt.printer.Notice("\nPage %d of %d", page.Page, page.TotalPages)
		return nil
	}
}

func docsUpload(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return domain.ErrInvalidArgument.WithDetails("file required")
		}
		if _, err := connection.ValidateUpload(path); err != nil {
			return err
		}
		docs, err := rt.docsClient(c)
		if err != nil {
			return err
		}

		bar := rt.printer.Progress(filepath.Base(path))
		docs.OnProgress(bar.Update)
		doc, err := docs.Ingest(c.Context, path)
		bar.Finish()
		if err != nil {
			return err
		}

		if rt.printer.Format().Structured() {
			return rt.printer.Print(doc)
		}
		rt.printer.Notice("Uploaded %s as document %s (%s).", doc.Name, doc.ID, doc.Status)
		return nil
	}
}

func docsShow(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return domain.ErrInvalidArgument.WithDetails("document id required")
		}
		docs, err := rt.docsClient(c)
		if err != nil {
			return err
		}
		doc, err := docs.Consult(c.Context, id)
		if err != nil {
			return err
		}
		return rt.printer.Print(doc)
	}
}

func docsUpdate(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 2 {
			return domain.ErrInvalidArgument.WithDetails("usage: docs update DOCUMENT_ID FILE")
		}
		id, path := c.Args().Get(0), c.Args().Get(1)
		if _, err := connection.ValidateUpload(path); err != nil {
			return err
		}
		docs, err := rt.docsClient(c)
		if err != nil {
			return err
		}

		bar := rt.printer.Progress(filepath.Base(path))
		docs.OnProgress(bar.Update)
		err = docs.Update(c.Context, id, path)
		bar.Finish()
		if err != nil {
			return err
		}
		rt.printer.Notice("Document %s updated from %s.", id, filepath.Base(path))
		return nil
	}
}

func docsDelete(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return domain.ErrInvalidArgument.WithDetails("document id required")
		}
		docs, err := rt.docsClient(c)
		if err != nil {
			return err
		}
		if err := docs.Delete(c.Context, id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
		rt.printer.Notice("Document %s deleted.", id)
		return nil
	}
}

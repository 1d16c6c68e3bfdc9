package cli

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/tally/internal/core/domain"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage uploaded documents",
	Long:  `Upload, replace, reparse or remove the documents evaluated against controls.`,
}

var documentAddCmd = &cobra.Command{
	Use:   "add [file...]",
	Short: "Upload documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocumentAdd,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentReplaceCmd = &cobra.Command{
	Use:   "replace [doc-id] [file]",
	Short: "Replace a document's file",
	Long:  `Uploads a new file for an existing document. Its row of answers is regenerated.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runDocumentReplace,
}

var documentReparseCmd = &cobra.Command{
	Use:   "reparse [doc-id]",
	Short: "Extract a document again",
	Long:  `Discards the cached extraction of a document and regenerates its row of answers.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentReparse,
}

var documentRemoveCmd = &cobra.Command{
	Use:   "remove [doc-id]",
	Short: "Remove a document and its answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentRemove,
}

// documentContentType overrides the detected content type.
var documentContentType string

// extensionTypes covers the accepted upload types the system MIME table may lack.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".json": "application/json",
	".txt":  "text/plain",
}

func init() {
	documentAddCmd.Flags().StringVarP(&documentContentType, "content-type", "t", "", "content type (default: from extension)")
	documentReplaceCmd.Flags().StringVarP(&documentContentType, "content-type", "t", "", "content type (default: from extension)")

	documentCmd.AddCommand(documentAddCmd)
	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentReplaceCmd)
	documentCmd.AddCommand(documentReparseCmd)
	documentCmd.AddCommand(documentRemoveCmd)
	rootCmd.AddCommand(documentCmd)
}

func runDocumentAdd(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	var failed int
	for _, path := range args {
		req, f, err := openUpload(path)
		if err != nil {
			cmd.PrintErrf("  %s: %v\n", path, err)
			failed++
			continue
		}
		doc, err := documentService.Upload(cmd.Context(), req, f)
		f.Close()
		if err != nil {
			cmd.PrintErrf("  %s: %v\n", path, err)
			failed++
			continue
		}
		cmd.Printf("Added %s (%s)\n", doc.Filename, doc.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	docs, err := documentService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents uploaded.")
		return nil
	}

	for i := range docs {
		cmd.Printf("  %s\n", docs[i].ID)
		cmd.Printf("    File:    %s (v%d, %s)\n", docs[i].Filename, docs[i].Version, formatSize(docs[i].Size))
		if docs[i].SourcePath != "" {
			cmd.Printf("    Source:  %s\n", docs[i].SourcePath)
		}
		cmd.Println()
	}

	cmd.Printf("Total: %d documents\n", len(docs))
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, err := documentService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Filename: %s\n", doc.Filename)
	cmd.Printf("  Type:     %s\n", doc.ContentType)
	cmd.Printf("  Size:     %s\n", formatSize(doc.Size))
	cmd.Printf("  Version:  %d\n", doc.Version)
	if doc.SourcePath != "" {
		cmd.Printf("  Source:   %s\n", doc.SourcePath)
	}
	cmd.Printf("  Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Updated:  %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runDocumentReplace(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	req, f, err := openUpload(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := documentService.Replace(cmd.Context(), args[0], req, f)
	if err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	cmd.Printf("Replaced %s, now version %d\n", doc.ID, doc.Version)
	return nil
}

func runDocumentReparse(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, err := documentService.Reparse(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to reparse document: %w", err)
	}
	cmd.Printf("Reparsing %s, now version %d\n", doc.ID, doc.Version)
	return nil
}

func runDocumentRemove(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	if err := documentService.Remove(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	cmd.Printf("Removed %s\n", args[0])
	return nil
}

// openUpload opens a local file and describes it for upload.
func openUpload(path string) (domain.UploadRequest, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.UploadRequest{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return domain.UploadRequest{}, nil, err
	}
	if info.IsDir() {
		f.Close()
		return domain.UploadRequest{}, nil, fmt.Errorf("%s is a directory", path)
	}

	contentType := documentContentType
	if contentType == "" {
		contentType = detectContentType(path)
	}
	return domain.UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
	}, f, nil
}

func detectContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

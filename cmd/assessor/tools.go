package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/assessor/internal/assembly"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/templates"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export scored attempts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStoreFlags(cmd)
	f.String("root", "", "Root assessment id (template id or practice role id); empty exports everything")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	root := v.GetString("root")
	results, err := db.ExportAttempts(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}
	export := model.AttemptExport{
		ExportedAt: time.Now().UTC(),
		Root:       root,
		Count:      len(results),
		Results:    results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func importTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-templates FILE...",
		Short: "Import template YAML files as drafts",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImportTemplates,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("created-by", "cli", "Author recorded on imported templates")
	addLogFlags(cmd)
	return cmd
}

// runImportTemplates imports each file once. A file whose content changed
// since its last import becomes a new draft; earlier templates are untouched.
func runImportTemplates(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	svc := templates.New(db, assembly.New(db, db, nil))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("template file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("template file changed since last import, importing as a new draft", "path", path)
		}

		tpl, err := svc.Import(ctx, data, v.GetString("created-by"))
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported template", "path", path, "template", tpl.ID, "questions", tpl.QuestionCount)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Recompute stored scores from responses and report mismatches",
		RunE:  runAudit,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("root", "", "Root assessment id; empty audits every attempt")
	addLogFlags(cmd)
	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	attempts, err := db.ListAllAttempts(ctx, v.GetString("root"))
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	asm := assembly.New(db, db, nil)
	var mismatches, skipped int
	for _, a := range attempts {
		questions, err := asm.AttemptQuestions(ctx, db, a)
		if err != nil {
			slog.Warn("cannot resolve attempt questions", "attempt", a.ID, "user", a.UserID, "error", err)
			skipped++
			continue
		}
		res, ok := scoring.Replay(a, questions)
		if ok {
			continue
		}
		mismatches++
		stored := -1
		if a.FinalScore != nil {
			stored = *a.FinalScore
		}
		slog.Error("score mismatch", "attempt", a.ID, "user", a.UserID,
			"stored", stored, "recomputed", res.FinalScore)
	}

	slog.Info("audit finished", "attempts", len(attempts), "mismatches", mismatches, "skipped", skipped)
	if mismatches > 0 {
		return fmt.Errorf("%d attempts do not match their stored scores", mismatches)
	}
	return nil
}

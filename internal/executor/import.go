package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
	"github.com/basket/pocvault/internal/runner/nuclei"
)

// ImportTemplate validates an on-disk scanner template and catalogs it. When
// the scanner binary is unavailable the header parse alone gates the import,
// logged as a degraded path.
func ImportTemplate(ctx context.Context, store *library.Store, adapter *nuclei.Adapter, path string, logger *slog.Logger) (*library.CheckRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Wrap(fault.KindNotFound, err, "template %s", path)
		}
		return nil, fault.Wrap(fault.KindStorageFailure, err, "read template %s", path)
	}

	if err := adapter.Validate(ctx, path); err != nil {
		if !fault.IsKind(err, fault.KindToolUnavailable) {
			return nil, err
		}
		logger.Warn("scanner binary unavailable, importing on header parse only", "template", path)
	}

	info := nuclei.DescribeTemplate(path)
	if info == nil {
		return nil, fault.New(fault.KindValidation, "template %s has no parseable id/info header", path)
	}

	category := "imported"
	if len(info.Tags) > 0 {
		category = info.Tags[0]
	}
	label := info.Name
	if label == "" {
		label = info.ID
	}
	description := info.Description
	if description == "" {
		description = fmt.Sprintf("Imported scanner template %s", info.ID)
	}
	metadata := map[string]string{"template_id": info.ID}
	if info.Severity != "" {
		metadata["severity"] = info.Severity
	}

	rec, err := store.Save(ctx, library.SaveRequest{
		Category:    category,
		Label:       label,
		Description: description,
		Kind:        library.KindTemplate,
		Content:     string(data),
		Tags:        info.Tags,
		Metadata:    metadata,
		Automatable: true,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("template imported", "check_id", rec.ID, "template_id", info.ID, "category", category)
	return rec, nil
}

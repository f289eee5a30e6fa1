package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/sammcj/batchserve/internal/logging"
)

// FileCopyHandler appends a one-line JSON summary of each finished
// batch to a secondary sink path, taken from metadata.filecopy_path.
// It stands in for the source implementation's database-sync handler
// as a second, dependency-free example of an optional plug-in handler
// dispatched through the same registry as the webhook handler.
type FileCopyHandler struct {
	logger logging.Logger
}

func NewFileCopyHandler(logger logging.Logger) *FileCopyHandler {
	return &FileCopyHandler{logger: logger}
}

func (h *FileCopyHandler) Name() string { return "filecopy" }

func (h *FileCopyHandler) Enabled(metadataJSON string) bool {
	return gjson.Get(metadataJSON, "filecopy_path").Exists()
}

func (h *FileCopyHandler) OnError(err error) {
	h.logger.Warn("filecopy handler failed", "err", err.Error())
}

func (h *FileCopyHandler) Handle(ctx context.Context, result Result) error {
	path := gjson.Get(result.MetadataJSON, "filecopy_path").String()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := "{\"batch_id\":\"" + result.BatchID + "\",\"status\":\"" + result.Status + "\"}\n"
	_, err = f.WriteString(line)
	return err
}

package worker

import (
	"os"

	"github.com/sammcj/batchserve/internal/jsonl"
)

// loadCustomIDSet reads a batch's existing output and error files (if
// any) and returns the union of custom_ids already recorded in either.
// The worker consults this before re-streaming a batch's input so a
// crash-and-restart resumes at the next unprocessed request instead of
// redoing completed (or already-failed) work, per spec section 5's
// resume-by-custom_id-membership rule.
func loadCustomIDSet(paths ...string) (map[string]bool, error) {
	seen := map[string]bool{}
	for _, path := range paths {
		if err := addCustomIDs(path, seen); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

func addCustomIDs(path string, seen map[string]bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	return jsonl.ForEachResultLine(f, func(_ int, line jsonl.ResultLine) error {
		if line.CustomID != "" {
			seen[line.CustomID] = true
		}
		return nil
	})
}

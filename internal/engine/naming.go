package engine

import (
	"strings"

	"github.com/vmrag/vmrag/internal/errors"
)

// CollectionName maps a branch name to its vector-store collection name:
// slashes and underscores become hyphens, the result is lowercased, prefixed,
// and truncated to maxLen.
func CollectionName(prefix, branch string, maxLen int) string {
	name := strings.ToLower(branch)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "_", "-")
	name = prefix + name
	if maxLen > 0 && len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// CollectionForBranch applies the configured prefix and length bound.
func (e *Engine) CollectionForBranch(branch string) string {
	return CollectionName(e.cfg.Sync.CollectionPrefix, branch, e.cfg.Sync.MaxCollectionName)
}

// checkNamingCollision rejects a candidate branch whose sanitized collection
// name collides with a different existing branch.
func checkNamingCollision(prefix string, maxLen int, branches []string, candidate string) error {
	candidateName := CollectionName(prefix, candidate, maxLen)
	for _, branch := range branches {
		if branch == candidate {
			continue
		}
		if CollectionName(prefix, branch, maxLen) == candidateName {
			return errors.Newf(errors.CodeNamingCollision,
				"branches %q and %q both map to collection %q", branch, candidate, candidateName).
				WithDetail("collection", candidateName).
				WithSuggestion("rename the branch so the sanitized names differ")
		}
	}
	return nil
}

package journal

import (
	"context"
	"sort"
	"strings"

	"journal/api/internal/metrics"
)

// NormalizeTagNames trims every name, drops blanks and removes exact
// duplicates. First occurrence wins.
func NormalizeTagNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ReconcileTags maps names to the user's tag rows, creating the ones that do
// not exist yet. The result holds exactly one tag per distinct normalized
// name, sorted by name. An empty normalized set touches no store.
func ReconcileTags(ctx context.Context, tags TagStore, names []string, userID string) ([]Tag, error) {
	wanted := NormalizeTagNames(names)
	if len(wanted) == 0 {
		return []Tag{}, nil
	}

	existing, err := tags.ListTagsByNames(ctx, userID, wanted)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]Tag, len(wanted))
	for _, tag := range existing {
		resolved[tag.Name] = tag
	}

	missing := missingNames(wanted, resolved)
	if len(missing) > 0 {
		created, err := tags.InsertTags(ctx, userID, missing)
		if err != nil {
			return nil, err
		}
		metrics.TagsCreated.Add(float64(len(created)))
		for _, tag := range created {
			resolved[tag.Name] = tag
		}

		// A concurrent writer may have created some names after the first
		// read; the insert skips those, so read them back.
		if raced := missingNames(wanted, resolved); len(raced) > 0 {
			late, err := tags.ListTagsByNames(ctx, userID, raced)
			if err != nil {
				return nil, err
			}
			for _, tag := range late {
				resolved[tag.Name] = tag
			}
		}
	}

	out := make([]Tag, 0, len(resolved))
	for _, tag := range resolved {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func missingNames(wanted []string, resolved map[string]Tag) []string {
	var missing []string
	for _, name := range wanted {
		if _, ok := resolved[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

package app

import (
	"context"
	"errors"
	"fmt"

	"goalline/internal/config"
	"goalline/internal/repo"
)

// DefaultRuleSet is the name the engine resolves when no explicit rule set
// is requested.
const DefaultRuleSet = "default"

// ResolveRules loads the active rule set, preferring a goalline.yml in the
// workspace, then the copy stored in the DB, seeding defaults when neither
// exists yet.
func ResolveRules(ctx context.Context, workspace string, r repo.Repo) (*config.Rules, error) {
	if rules, err := config.LoadOptional(workspace); err != nil {
		return nil, err
	} else if rules != nil {
		return rules, nil
	}
	rules, err := r.GetRuleConfig(ctx, DefaultRuleSet)
	if err == nil {
		return rules, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	rules = config.Default()
	if err := r.UpsertRuleConfig(ctx, DefaultRuleSet, rules); err != nil {
		return nil, fmt.Errorf("seed rule config: %w", err)
	}
	return rules, nil
}

// ImportRules validates a rule file and stores it as the active set.
func ImportRules(ctx context.Context, path string, r repo.Repo) (*config.Rules, error) {
	rules, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	if err := r.UpsertRuleConfig(ctx, DefaultRuleSet, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Package branch resolves collision-free branch names for new work
// branches. Concurrent sessions against one repository are expected to
// race on names; the resolver is what keeps them apart.
package branch

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/logging"
)

// Checker answers branch-existence queries. The orchestrator hands the
// resolver a checker already guarded by the retrier and circuit breaker.
type Checker interface {
	BranchExists(ctx context.Context, repo, name string) (bool, error)
}

// Config configures branch resolution.
type Config struct {
	// MaxFallbackAttempts caps how many candidate names are tried after
	// the base name itself. Default: 5
	MaxFallbackAttempts int
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{MaxFallbackAttempts: 5}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxFallbackAttempts == 0 {
		c.MaxFallbackAttempts = DefaultConfig().MaxFallbackAttempts
	}
}

// Resolver finds a branch name verified absent from the repository.
type Resolver struct {
	checker Checker
	cfg     Config
	logger  *logging.Logger

	// now and shortRand are swappable for deterministic tests.
	now       func() time.Time
	shortRand func() string
}

// NewResolver creates a resolver over the given (guarded) checker.
func NewResolver(checker Checker, cfg Config, logger *logging.Logger) *Resolver {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		checker:   checker,
		cfg:       cfg,
		logger:    logger.Named("branch"),
		now:       time.Now,
		shortRand: func() string { return fmt.Sprintf("%04x", rand.Intn(0x10000)) },
	}
}

// Resolve returns base if it is absent from repo, otherwise the first
// fallback candidate verified absent. It never loops past the fallback
// cap; exhaustion is a branch_conflict fault.
func (r *Resolver) Resolve(ctx context.Context, repo, base string) (string, error) {
	exists, err := r.checker.BranchExists(ctx, repo, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}

	r.logger.Debug(ctx, "base branch name taken, trying fallbacks",
		zap.String("repo", repo),
		zap.String("base", base),
	)

	fallbacks := r.candidates(base)
	attempts := r.cfg.MaxFallbackAttempts
	if attempts > len(fallbacks) {
		attempts = len(fallbacks)
	}

	for i := 0; i < attempts; i++ {
		candidate := fallbacks[i]
		exists, err := r.checker.BranchExists(ctx, repo, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			r.logger.Info(ctx, "resolved branch name via fallback",
				zap.String("repo", repo),
				zap.String("branch", candidate),
				zap.Int("fallback_index", i),
			)
			return candidate, nil
		}
	}

	return "", faults.New("resolve_branch", faults.CodeBranchConflict,
		"no free branch name for %q in %s after %d fallbacks", base, repo, attempts)
}

// candidates produces the ordered fallback names for a taken base.
func (r *Resolver) candidates(base string) []string {
	ts := r.now().UTC().Format("20060102-150405")
	return []string{
		fmt.Sprintf("%s-%s", base, ts),
		fmt.Sprintf("%s-%s", base, r.shortRand()),
		fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]),
		fmt.Sprintf("patch/%s-%s", strings.TrimPrefix(base, "patchd/"), ts),
		fmt.Sprintf("patchd/auto-%s-%s", ts, r.shortRand()),
	}
}

var (
	slugInvalid  = regexp.MustCompile(`[^a-z0-9]+`)
	slugMaxWords = 6
)

// Slug derives a branch base name from a change prompt, e.g.
// "Add input validation to the signup handler" -> "patchd/add-input-validation".
func Slug(prompt string) string {
	words := strings.Fields(strings.ToLower(prompt))
	if len(words) > slugMaxWords {
		words = words[:slugMaxWords]
	}
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		w = slugInvalid.ReplaceAllString(w, "")
		if w != "" {
			cleaned = append(cleaned, w)
		}
	}
	if len(cleaned) == 0 {
		return "patchd/change"
	}
	return "patchd/" + strings.Join(cleaned, "-")
}

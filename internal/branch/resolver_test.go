package branch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

// fakeChecker reports existence from a mutable set of taken names.
type fakeChecker struct {
	mu     sync.Mutex
	taken  map[string]bool
	checks int
	err    error
}

func newFakeChecker(taken ...string) *fakeChecker {
	m := make(map[string]bool, len(taken))
	for _, n := range taken {
		m[n] = true
	}
	return &fakeChecker{taken: m}
}

func (f *fakeChecker) BranchExists(ctx context.Context, repo, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.err != nil {
		return false, f.err
	}
	return f.taken[name], nil
}

// claim marks a name taken and reports whether it was free before.
func (f *fakeChecker) claim(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken[name] {
		return false
	}
	f.taken[name] = true
	return true
}

func testResolver(c Checker) *Resolver {
	r := NewResolver(c, DefaultConfig(), nil)
	r.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	seq := 0
	r.shortRand = func() string {
		seq++
		return map[int]string{1: "aaaa", 2: "bbbb", 3: "cccc"}[seq]
	}
	return r
}

func TestResolve_BaseNameFree(t *testing.T) {
	c := newFakeChecker()
	r := testResolver(c)

	name, err := r.Resolve(context.Background(), "acme/repo", "patchd/add-validation")
	require.NoError(t, err)
	assert.Equal(t, "patchd/add-validation", name)
	assert.Equal(t, 1, c.checks)
}

func TestResolve_FirstFallback(t *testing.T) {
	c := newFakeChecker("patchd/add-validation")
	r := testResolver(c)

	name, err := r.Resolve(context.Background(), "acme/repo", "patchd/add-validation")
	require.NoError(t, err)
	assert.Equal(t, "patchd/add-validation-20260830-120000", name)
}

func TestResolve_WalksFallbackOrder(t *testing.T) {
	c := newFakeChecker(
		"patchd/add-validation",
		"patchd/add-validation-20260830-120000",
	)
	r := testResolver(c)

	name, err := r.Resolve(context.Background(), "acme/repo", "patchd/add-validation")
	require.NoError(t, err)
	assert.Equal(t, "patchd/add-validation-aaaa", name, "random short suffix is the second fallback")
}

func TestResolve_ExhaustionIsBranchConflict(t *testing.T) {
	all := &allTakenChecker{}
	r := testResolver(all)

	_, err := r.Resolve(context.Background(), "acme/repo", "patchd/busy")
	require.Error(t, err)
	assert.Equal(t, faults.CodeBranchConflict, faults.CodeOf(err))
	// base + capped fallbacks, never more.
	assert.Equal(t, 1+DefaultConfig().MaxFallbackAttempts, all.checks)
}

type allTakenChecker struct{ checks int }

func (a *allTakenChecker) BranchExists(ctx context.Context, repo, name string) (bool, error) {
	a.checks++
	return true, nil
}

func TestResolve_CapBelowStrategyCount(t *testing.T) {
	all := &allTakenChecker{}
	r := NewResolver(all, Config{MaxFallbackAttempts: 2}, nil)

	_, err := r.Resolve(context.Background(), "acme/repo", "x-branch")
	require.Error(t, err)
	assert.Equal(t, 3, all.checks, "base check plus exactly two fallbacks")
}

func TestResolve_CheckerErrorPropagates(t *testing.T) {
	c := newFakeChecker()
	c.err = faults.New("branch_exists", faults.CodeTransient, "503")
	r := testResolver(c)

	_, err := r.Resolve(context.Background(), "acme/repo", "b")
	require.Error(t, err)
	assert.Equal(t, faults.CodeTransient, faults.CodeOf(err))
}

func TestResolve_ConcurrentSessionsGetDistinctNames(t *testing.T) {
	// Two sessions race on the same derived base name against one
	// repository; resolve-then-claim must yield distinct branches.
	c := newFakeChecker("patchd/add-validation")
	names := make(chan string, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := NewResolver(c, DefaultConfig(), nil)
			for {
				name, err := r.Resolve(context.Background(), "acme/repo", "patchd/add-validation")
				if err != nil {
					names <- ""
					return
				}
				if c.claim(name) {
					names <- name
					return
				}
				// Lost the race to the other session; resolve again.
			}
		}()
	}
	wg.Wait()
	close(names)

	a, b := <-names, <-names
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "patchd/add-input-validation-to-the-signup",
		Slug("Add input validation to the signup handler"))
	assert.Equal(t, "patchd/fix-bug", Slug("Fix bug!"))
	assert.Equal(t, "patchd/change", Slug("!!! ???"))
	assert.Equal(t, "patchd/change", Slug(""))
}

func TestCandidates_AreWellFormed(t *testing.T) {
	r := testResolver(newFakeChecker())
	cands := r.candidates("patchd/thing")
	require.Len(t, cands, 5)
	seen := make(map[string]bool)
	for _, c := range cands {
		assert.NotEmpty(t, c)
		assert.False(t, seen[c], "candidates must be distinct: %s", c)
		seen[c] = true
	}
	assert.Contains(t, cands[3], "patch/", "alternate prefix strategy")
	assert.Contains(t, cands[4], "patchd/auto-", "emergency synthetic name")
}

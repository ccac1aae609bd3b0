package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchd/internal/admission"
	"github.com/fyrsmithlabs/patchd/internal/branch"
	"github.com/fyrsmithlabs/patchd/internal/breaker"
	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/generate"
	"github.com/fyrsmithlabs/patchd/internal/hosting"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/retry"
	"github.com/fyrsmithlabs/patchd/internal/session"
	"github.com/fyrsmithlabs/patchd/internal/workspace"
)

// Options wires the engine's collaborators.
type Options struct {
	Config     Config
	Retry      retry.Config
	Branch     branch.Config
	Admission  *admission.Controller
	Breakers   *breaker.Registry
	Bridge     hosting.Bridge
	Generator  generate.Service
	Workspaces *workspace.Manager
	Logger     *logging.Logger
}

// Engine drives sessions from admission to a terminal state.
type Engine struct {
	cfg      Config
	retryCfg retry.Config
	admit    *admission.Controller
	breakers *breaker.Registry
	bridge   hosting.Bridge
	gen      generate.Service
	resolver *branch.Resolver
	spaces   *workspace.Manager
	logger   *logging.Logger

	mu      sync.Mutex
	results map[string]*entry
}

// entry tracks one session's pending or terminal result. The terminal
// result is written exactly once; a late-finishing worker after a budget
// timeout finds the entry already settled and its result is discarded.
type entry struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

// NewEngine creates an orchestration engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Admission == nil {
		return nil, fmt.Errorf("admission controller is required")
	}
	if opts.Breakers == nil {
		return nil, fmt.Errorf("breaker registry is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("hosting bridge is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("generation service is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	opts.Config.ApplyDefaults()

	e := &Engine{
		cfg:      opts.Config,
		retryCfg: opts.Retry,
		admit:    opts.Admission,
		breakers: opts.Breakers,
		bridge:   opts.Bridge,
		gen:      opts.Generator,
		spaces:   opts.Workspaces,
		logger:   opts.Logger.Named("orchestrator"),
		results:  make(map[string]*entry),
	}
	e.resolver = branch.NewResolver(&guardedChecker{e: e}, opts.Branch, opts.Logger)
	return e, nil
}

// Submit validates a request and, if admitted, starts a session worker.
// The admission decision is synchronous; validation failures consume no
// admission slot. Returns the session ID on acceptance.
func (e *Engine) Submit(ctx context.Context, req session.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.BaseBranch == "" {
		req.BaseBranch = e.cfg.BaseBranch
	}

	s := session.New(req)
	slot, err := e.admit.TryAdmit(ctx, req.Client, req.Repo, s.ID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.results[s.ID] = &entry{done: make(chan struct{})}
	e.mu.Unlock()

	e.logger.Info(ctx, "session accepted",
		zap.String("session_id", s.ID),
		zap.String("repo", s.Repo),
		zap.String("client", s.Client),
	)

	go e.run(s, slot)
	return s.ID, nil
}

// AwaitResult blocks until the session reaches a terminal state or ctx
// expires. Unknown session IDs fail immediately.
func (e *Engine) AwaitResult(ctx context.Context, sessionID string) (*Result, error) {
	e.mu.Lock()
	ent, ok := e.results[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil, faults.New("await_result", faults.CodeValidation, "unknown session %q", sessionID)
	}

	// A settled session answers even on an already-expired context, so
	// zero-wait polling stays deterministic.
	select {
	case <-ent.done:
		result := ent.result
		return &result, nil
	default:
	}

	select {
	case <-ent.done:
		result := ent.result
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes one session under its wall-clock budget. The slot is
// released on every terminal outcome, exactly once.
func (e *Engine) run(s *session.Session, slot *admission.Slot) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Budget)
	defer cancel()
	ctx = logging.WithSessionID(ctx, s.ID)
	ctx = logging.WithLogger(ctx, e.logger)

	defer e.admit.Release(ctx, slot.ID)

	st := &runState{s: s}
	err := e.execute(ctx, st)
	elapsed := time.Since(s.StartedAt)

	if err != nil {
		s.Fail(err)
		if st.branchCreated {
			e.compensate(ctx, s.Repo, s.BranchName)
		}
		e.logger.Error(ctx, "session failed",
			zap.String("phase_at_failure", string(st.failedPhase)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		recordSession(ctx, "failed", elapsed)
		e.finalize(s.ID, Result{
			SessionID:  s.ID,
			Success:    false,
			BranchName: s.BranchName,
			ErrorCode:  faults.CodeOf(err),
			Message:    err.Error(),
			FinishedAt: time.Now(),
		})
		return
	}

	e.logger.Info(ctx, "session completed",
		zap.String("branch", s.BranchName),
		zap.String("change_request_url", st.url),
		zap.Duration("elapsed", elapsed),
	)
	recordSession(ctx, "completed", elapsed)
	e.finalize(s.ID, Result{
		SessionID:        s.ID,
		Success:          true,
		ChangeRequestURL: st.url,
		BranchName:       s.BranchName,
		Summary:          st.summary,
		FinishedAt:       time.Now(),
	})
}

// runState carries per-run scratch across phases.
type runState struct {
	s             *session.Session
	branchCreated bool
	url           string
	summary       string
	failedPhase   session.Phase
}

// execute advances the session through its phases. Any returned error
// means the session must fail; the caller handles compensation.
func (e *Engine) execute(ctx context.Context, st *runState) error {
	s := st.s
	st.failedPhase = s.Phase

	// Analyzing
	analysis, err := e.analyze(ctx, s)
	if err != nil {
		return err
	}

	if err := s.Transition(session.PhaseGenerating); err != nil {
		return err
	}
	st.failedPhase = s.Phase

	cs, err := e.generateChanges(ctx, s, analysis)
	if err != nil {
		return err
	}
	if s.VerifyCommand != "" {
		if err := e.verify(ctx, s, cs); err != nil {
			return err
		}
	}

	if err := s.Transition(session.PhaseCommitting); err != nil {
		return err
	}
	st.failedPhase = s.Phase

	if err := e.commit(ctx, st, cs); err != nil {
		return err
	}

	if err := s.Transition(session.PhaseOpeningChange); err != nil {
		return err
	}
	st.failedPhase = s.Phase

	url, err := e.openChange(ctx, s, cs)
	if err != nil {
		return err
	}

	if err := s.Transition(session.PhaseCompleted); err != nil {
		return err
	}

	st.url = url
	st.summary = cs.Summary
	return nil
}

func (e *Engine) analyze(ctx context.Context, s *session.Session) (*generate.Analysis, error) {
	start := time.Now()
	defer func() { recordPhase(ctx, string(session.PhaseAnalyzing), time.Since(start)) }()

	var analysis *generate.Analysis
	err := e.guard(ctx, generate.Dependency, "analyze", func(ctx context.Context) error {
		var err error
		analysis, err = e.gen.Analyze(ctx, generate.AnalyzeRequest{Repo: s.Repo, Prompt: s.Prompt})
		return err
	})
	return analysis, err
}

func (e *Engine) generateChanges(ctx context.Context, s *session.Session, analysis *generate.Analysis) (*generate.ChangeSet, error) {
	start := time.Now()
	defer func() { recordPhase(ctx, string(session.PhaseGenerating), time.Since(start)) }()

	var cs *generate.ChangeSet
	err := e.guard(ctx, generate.Dependency, "generate_changes", func(ctx context.Context) error {
		var err error
		cs, err = e.gen.Generate(ctx, generate.GenerateRequest{Repo: s.Repo, Prompt: s.Prompt, Analysis: analysis})
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return cs, nil
}

// verify applies the change set to a sandboxed working copy and runs the
// request's verification command there. Any failure fails the session
// before remote side effects begin.
func (e *Engine) verify(ctx context.Context, s *session.Session, cs *generate.ChangeSet) error {
	if e.spaces == nil {
		return faults.New("verify", faults.CodeValidation, "verification requested but no workspace manager configured")
	}

	ws, err := e.spaces.Clone(ctx, s.ID, s.Repo, s.BaseBranch)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.spaces.Cleanup(ctx, ws); err != nil {
			e.logger.Warn(ctx, "workspace cleanup failed", zap.Error(err))
		}
	}()

	for _, op := range cs.Operations {
		target := filepath.Join(ws.Dir, filepath.FromSlash(op.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return faults.Wrap("verify", faults.CodeUnrecoverable, err)
		}
		if err := os.WriteFile(target, []byte(op.Content), 0o644); err != nil {
			return faults.Wrap("verify", faults.CodeUnrecoverable, err)
		}
	}

	out, err := e.spaces.Run(ctx, ws, s.VerifyCommand)
	if err != nil {
		return err
	}
	e.logger.Debug(ctx, "verification passed", zap.String("output", truncate(out, 2000)))
	return nil
}

// commit resolves a collision-free branch name, creates the branch, and
// applies the file operations in the order produced. Each write failure
// aborts the phase.
func (e *Engine) commit(ctx context.Context, st *runState, cs *generate.ChangeSet) error {
	s := st.s
	start := time.Now()
	defer func() { recordPhase(ctx, string(session.PhaseCommitting), time.Since(start)) }()

	name, err := e.resolver.Resolve(ctx, s.Repo, branch.Slug(s.Prompt))
	if err != nil {
		return err
	}
	if err := s.SetBranch(name); err != nil {
		return err
	}

	err = e.guard(ctx, hosting.Dependency, "create_branch", func(ctx context.Context) error {
		return e.bridge.CreateBranch(ctx, s.Repo, name, s.BaseBranch)
	})
	if err != nil {
		return err
	}
	st.branchCreated = true

	for _, op := range cs.Operations {
		write := hosting.FileWrite{
			Path:    op.Path,
			Content: op.Content,
			Create:  op.Action == generate.ActionCreate,
			Message: fmt.Sprintf("%s %s", op.Action, op.Path),
		}
		err := e.guard(ctx, hosting.Dependency, "write_file", func(ctx context.Context) error {
			return e.bridge.WriteFile(ctx, s.Repo, name, write)
		})
		if err != nil {
			return err
		}
		if err := s.RecordWrite(write.Create, op.Path); err != nil {
			return err
		}
	}
	return nil
}

// openChange opens the change request. Opening one against an empty diff
// is an invariant violation, not a hosting problem.
func (e *Engine) openChange(ctx context.Context, s *session.Session, cs *generate.ChangeSet) (string, error) {
	start := time.Now()
	defer func() { recordPhase(ctx, string(session.PhaseOpeningChange), time.Since(start)) }()

	if s.WriteCount() == 0 {
		return "", faults.New("open_change_request", faults.CodeUnrecoverable,
			"no file writes applied, refusing to open an empty change request")
	}

	title := cs.Title
	if title == "" {
		title = truncate(s.Prompt, 72)
	}

	var url string
	err := e.guard(ctx, hosting.Dependency, "open_change_request", func(ctx context.Context) error {
		var err error
		url, err = e.bridge.OpenChangeRequest(ctx, s.Repo, hosting.ChangeRequest{
			Title: title,
			Body:  cs.Summary,
			Head:  s.BranchName,
			Base:  s.BaseBranch,
		})
		return err
	})
	return url, err
}

// compensate removes the created branch after a failure at or past the
// committing phase. Best effort: failures are logged and never escalate,
// so they cannot clobber the session's terminal error.
func (e *Engine) compensate(ctx context.Context, repo, branchName string) {
	if branchName == "" {
		return
	}
	// The session budget may already be spent; cleanup gets its own window.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := e.bridge.DeleteBranch(cleanupCtx, repo, branchName); err != nil {
		e.logger.Warn(ctx, "compensating branch deletion failed",
			zap.String("repo", repo),
			zap.String("branch", branchName),
			zap.Error(err),
		)
		return
	}
	e.logger.Info(ctx, "compensating branch deletion succeeded",
		zap.String("repo", repo),
		zap.String("branch", branchName),
	)
}

// guard wraps an external call in the circuit breaker for dep with the
// retrier underneath: one breaker call spans a full retry cycle.
func (e *Engine) guard(ctx context.Context, dep, op string, fn func(ctx context.Context) error) error {
	return e.breakers.Do(ctx, dep, func(ctx context.Context) error {
		return retry.Do(ctx, e.retryCfg, op, fn)
	})
}

// finalize settles a session's result exactly once.
func (e *Engine) finalize(sessionID string, result Result) {
	e.mu.Lock()
	ent, ok := e.results[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	ent.once.Do(func() {
		ent.result = result
		close(ent.done)
	})
}

// guardedChecker routes branch-existence checks through the retrier and
// circuit breaker for the hosting dependency.
type guardedChecker struct {
	e *Engine
}

func (g *guardedChecker) BranchExists(ctx context.Context, repo, name string) (bool, error) {
	var exists bool
	err := g.e.guard(ctx, hosting.Dependency, "branch_exists", func(ctx context.Context) error {
		var err error
		exists, err = g.e.bridge.BranchExists(ctx, repo, name)
		return err
	})
	return exists, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/patchd/internal/session"
)

// commandPrefix is the issue-comment trigger: "/patchd <prompt>".
const commandPrefix = "/patchd "

// ipLimiters tracks one token bucket per client IP. The table is wiped
// hourly so abandoned IPs do not accumulate.
type ipLimiters struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

func newIPLimiters() *ipLimiters {
	return &ipLimiters{
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// get returns the limiter for ip: 60 requests per minute with a burst
// of 10.
func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > time.Hour {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		l.limiters[ip] = limiter
	}
	return limiter
}

// clientIP extracts the originating address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// handleWebhook accepts GitHub issue-comment events and turns comments
// of the form "/patchd <prompt>" into submitted sessions.
func (s *Server) handleWebhook(c echo.Context) error {
	r := c.Request()
	ctx := r.Context()

	ip := clientIP(r)
	if !s.limiters.get(ip).Allow() {
		s.logger.Warn(ctx, "webhook rate limit exceeded", zap.String("ip", ip))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	if !s.cfg.WebhookSecret.IsSet() {
		return echo.NewHTTPError(http.StatusNotFound, "webhook not configured")
	}

	payload, err := github.ValidatePayload(r, []byte(s.cfg.WebhookSecret.Value()))
	if err != nil {
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		s.logger.Warn(ctx, "failed to parse webhook", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	switch e := event.(type) {
	case *github.IssueCommentEvent:
		return s.handleIssueComment(c, e)
	default:
		s.logger.Debug(ctx, "ignoring event type", zap.String("type", fmt.Sprintf("%T", event)))
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (s *Server) handleIssueComment(c echo.Context, event *github.IssueCommentEvent) error {
	ctx := c.Request().Context()

	if event.GetAction() != "created" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	body := strings.TrimSpace(event.GetComment().GetBody())
	if !strings.HasPrefix(body, commandPrefix) {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(body, commandPrefix))

	repo := event.GetRepo().GetFullName()
	commenter := event.GetComment().GetUser().GetLogin()
	if repo == "" || commenter == "" {
		s.logger.Warn(ctx, "webhook comment missing repo or user")
		return echo.NewHTTPError(http.StatusBadRequest, "incomplete event")
	}

	s.logger.Info(ctx, "webhook change request",
		zap.String("repo", repo),
		zap.String("commenter", commenter),
		zap.Int("issue", event.GetIssue().GetNumber()),
	)

	id, err := s.engine.Submit(ctx, session.Request{
		Prompt: prompt,
		Repo:   repo,
		Client: commenter,
	})
	if err != nil {
		return s.submitError(c, err)
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{SessionID: id, Status: "accepted"})
}

package match

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Batch outcome statuses.
const (
	OutcomeAssigned = "assigned"
	OutcomeNoMatch  = "no_match"
	OutcomeError    = "error"
)

// Outcome is the per-user result of a batch assignment run.
type Outcome struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
	Method Method `json:"method"`
	Groups int    `json:"groups"`
	Error  string `json:"error,omitempty"`
}

// BatchOptions tunes a batch run.
type BatchOptions struct {
	// Concurrency bounds parallel user assignments. Zero selects 8.
	Concurrency int
	// WritesPerSecond throttles assignments across workers. Zero disables
	// the limiter.
	WritesPerSecond float64
}

// AssignBatch assigns every user, bounded by opts.Concurrency. One user's
// failure never aborts the run; each user gets an outcome in input order.
// Each user's assignment is self-contained, so an interrupted run leaves no
// partial state beyond the users already processed.
func (r *Resolver) AssignBatch(ctx context.Context, tenantID string, users []User, opts BatchOptions) []Outcome {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	var limiter *rate.Limiter
	if opts.WritesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSecond), 1)
	}

	outcomes := make([]Outcome, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range users {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					outcomes[i] = Outcome{UserID: u.ID, Status: OutcomeError, Method: MethodNone, Error: err.Error()}
					return nil
				}
			}
			result, err := r.AssignUser(gctx, tenantID, u)
			switch {
			case err != nil && result != nil:
				// Partial cascade: report the error but keep what landed.
				outcomes[i] = Outcome{
					UserID: u.ID, Status: OutcomeError, Method: result.Method,
					Groups: len(result.MatchedGroups), Error: err.Error(),
				}
			case err != nil:
				outcomes[i] = Outcome{UserID: u.ID, Status: OutcomeError, Method: MethodNone, Error: err.Error()}
			case result.Assigned():
				outcomes[i] = Outcome{
					UserID: u.ID, Status: OutcomeAssigned, Method: result.Method,
					Groups: len(result.MatchedGroups),
				}
			default:
				outcomes[i] = Outcome{UserID: u.ID, Status: OutcomeNoMatch, Method: MethodNone}
			}
			return nil
		})
	}
	_ = g.Wait()

	assigned, noMatch, failed := 0, 0, 0
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeAssigned:
			assigned++
		case OutcomeNoMatch:
			noMatch++
		case OutcomeError:
			failed++
		}
	}
	zap.L().Info("batch assignment complete",
		zap.String("tenant", tenantID),
		zap.Int("users", len(users)),
		zap.Int("assigned", assigned),
		zap.Int("no_match", noMatch),
		zap.Int("errors", failed),
	)
	return outcomes
}

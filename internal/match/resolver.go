package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/model"
	"github.com/nexus-community/groups-cli/internal/store"
	"github.com/nexus-community/groups-cli/internal/tree"
)

// Method identifies which matching strategy produced an assignment.
type Method string

const (
	MethodGeographic Method = "geographic"
	MethodText       Method = "text"
	MethodNone       Method = "none"
)

// User is the resolver's input: an identifier plus whatever location signal
// the registration flow captured.
type User struct {
	ID           int64
	LocationText string
	Latitude     *float64
	Longitude    *float64
}

// HasCoordinates reports whether both latitude and longitude are set.
func (u *User) HasCoordinates() bool {
	return u.Latitude != nil && u.Longitude != nil
}

// MatchedGroup is one group the user holds after an assignment, leaf first
// then ancestors up to the root.
type MatchedGroup struct {
	Group         model.Group `json:"group"`
	AlreadyMember bool        `json:"already_member"`
}

// Result reports the outcome of one AssignUser call.
type Result struct {
	UserID        int64          `json:"user_id"`
	Method        Method         `json:"method"`
	MatchedGroups []MatchedGroup `json:"matched_groups,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// Assigned reports whether any strategy matched.
func (r *Result) Assigned() bool { return r.Method != MethodNone }

// Config holds the resolver thresholds.
type Config struct {
	// DistanceThresholdKM is the maximum great-circle distance for a
	// geographic match. Zero selects the 50 km default.
	DistanceThresholdKM float64
	// TextConfidence is the minimum similarity percentage for a text
	// match. Zero selects the 90% default.
	TextConfidence float64
	// HubKind is the node kind eligible for direct assignment.
	HubKind model.GroupKind
}

func (c Config) withDefaults() Config {
	if c.DistanceThresholdKM <= 0 {
		c.DistanceThresholdKM = 50
	}
	if c.TextConfidence <= 0 {
		c.TextConfidence = 90
	}
	if c.HubKind == "" {
		c.HubKind = model.KindHub
	}
	return c
}

// Resolver assigns users to hub leaves and cascades membership upward.
type Resolver struct {
	store store.GroupStore
	tree  *tree.Engine
	cfg   Config
	locks *userLocks
}

// NewResolver creates a Resolver.
func NewResolver(st store.GroupStore, tr *tree.Engine, cfg Config) *Resolver {
	return &Resolver{store: st, tree: tr, cfg: cfg.withDefaults(), locks: newUserLocks()}
}

// AssignUser decides which hub leaf the user belongs to and creates
// membership edges for the leaf and every ancestor. Coordinates are tried
// first because they are strictly more reliable than free text; text is
// only a fallback when coordinates are absent or no leaf is close enough.
// Calls for the same user are serialized to keep edge creation idempotent
// under race; a missing match is a reported outcome, not an error.
func (r *Resolver) AssignUser(ctx context.Context, tenantID string, u User) (*Result, error) {
	unlock := r.locks.lock(tenantID, u.ID)
	defer unlock()

	log := zap.L().With(zap.String("tenant", tenantID), zap.Int64("user", u.ID))

	leaves, err := r.hubLeaves(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return &Result{UserID: u.ID, Method: MethodNone, Message: "no hub leaf groups in tenant"}, nil
	}

	var (
		matched *model.Group
		method  = MethodNone
		message string
	)

	if u.HasCoordinates() {
		leaf, distance := r.nearestLeaf(u, leaves)
		if leaf != nil && distance <= r.cfg.DistanceThresholdKM {
			matched = leaf
			method = MethodGeographic
			message = fmt.Sprintf("nearest hub %q at %.1f km", leaf.Name, distance)
		} else if leaf != nil {
			log.Debug("nearest hub beyond threshold",
				zap.String("hub", leaf.Name),
				zap.Float64("distance_km", distance),
				zap.Float64("threshold_km", r.cfg.DistanceThresholdKM),
			)
		}
	}

	if matched == nil && u.LocationText != "" {
		leaf, score, candidate := r.bestTextMatch(u.LocationText, leaves)
		if leaf != nil && score >= r.cfg.TextConfidence {
			matched = leaf
			method = MethodText
			message = fmt.Sprintf("location %q matched hub %q at %.1f%%", candidate, leaf.Name, score)
		} else if leaf != nil {
			message = fmt.Sprintf("best candidate %q scored %.1f%% against %q, below %.0f%% confidence",
				candidate, score, leaf.Name, r.cfg.TextConfidence)
		}
	}

	if matched == nil {
		if message == "" {
			message = "no location data available"
		}
		log.Info("no group assignment", zap.String("reason", message))
		return &Result{UserID: u.ID, Method: MethodNone, Message: message}, nil
	}

	groups, cascadeErr := r.cascade(ctx, tenantID, u.ID, matched)
	result := &Result{UserID: u.ID, Method: method, MatchedGroups: groups, Message: message}
	if cascadeErr != nil {
		// Already-created edges stay committed; the caller sees which
		// groups failed and which stuck.
		return result, cascadeErr
	}

	log.Info("user assigned",
		zap.String("method", string(method)),
		zap.Int64("leaf", matched.ID),
		zap.Int("groups", len(groups)),
	)
	return result, nil
}

// hubLeaves returns the tenant's assignable leaves.
func (r *Resolver) hubLeaves(ctx context.Context, tenantID string) ([]model.Group, error) {
	leafGroups, err := r.tree.GetLeafGroups(ctx, tenantID, r.cfg.HubKind, 0)
	if err != nil {
		return nil, eris.Wrap(err, "match: fetch hub leaves")
	}
	leaves := make([]model.Group, len(leafGroups))
	for i, lg := range leafGroups {
		leaves[i] = lg.Group
	}
	return leaves, nil
}

// nearestLeaf returns the closest coordinate-bearing leaf, or nil when none
// carries coordinates.
func (r *Resolver) nearestLeaf(u User, leaves []model.Group) (*model.Group, float64) {
	userPt := Point(*u.Latitude, *u.Longitude)
	var best *model.Group
	bestDist := 0.0
	for i := range leaves {
		leaf := &leaves[i]
		if !leaf.HasCoordinates() {
			continue
		}
		d := HaversineKM(userPt, Point(*leaf.Latitude, *leaf.Longitude))
		if best == nil || d < bestDist {
			best = leaf
			bestDist = d
		}
	}
	return best, bestDist
}

// bestTextMatch returns the (leaf, score, candidate) triple with the highest
// similarity across every leaf and comma-separated location candidate.
func (r *Resolver) bestTextMatch(location string, leaves []model.Group) (*model.Group, float64, string) {
	candidates := SplitCandidates(location)
	if len(candidates) == 0 {
		return nil, 0, ""
	}
	var (
		best      *model.Group
		bestScore float64
		bestCand  string
	)
	for i := range leaves {
		leaf := &leaves[i]
		name := NormalizeLocation(leaf.Name)
		if name == "" {
			continue
		}
		for _, cand := range candidates {
			if score := Similarity(cand, name); score > bestScore {
				best = leaf
				bestScore = score
				bestCand = cand
			}
		}
	}
	return best, bestScore, bestCand
}

// cascade creates a membership edge at the leaf and every ancestor the user
// does not already hold. One group's store failure is logged and skipped so
// the rest of the chain still lands; the joined error propagates to the
// caller with the partial result.
func (r *Resolver) cascade(ctx context.Context, tenantID string, userID int64, leaf *model.Group) ([]MatchedGroup, error) {
	chain, err := r.tree.GetAncestors(ctx, tenantID, leaf.ID)
	if err != nil {
		return nil, eris.Wrap(err, "match: fetch ancestors for cascade")
	}

	// Leaf first, then ancestors bottom-up.
	ordered := make([]model.Group, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		ordered = append(ordered, chain[i])
	}

	var (
		out  []MatchedGroup
		errs []error
	)
	for _, g := range ordered {
		exists, err := r.store.HasMembership(ctx, g.ID, userID)
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "match: check membership in %d", g.ID))
			zap.L().Warn("membership check failed, skipping group",
				zap.Int64("group", g.ID), zap.Int64("user", userID), zap.Error(err))
			continue
		}
		if !exists {
			if err := r.store.CreateMembership(ctx, g.ID, userID, model.OriginAuto); err != nil {
				errs = append(errs, err)
				zap.L().Warn("membership create failed, skipping group",
					zap.Int64("group", g.ID), zap.Int64("user", userID), zap.Error(err))
				continue
			}
		}
		out = append(out, MatchedGroup{Group: g, AlreadyMember: exists})
	}
	return out, errors.Join(errs...)
}

// Package redline is the review-status layer over Embed records. It owns the
// transition table and the automatic demotion of approved Embeds whose
// configuration changes underneath the approval.
package redline

import (
	"errors"
	"fmt"
	"time"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
)

// ErrInvalidTransition is returned for a manual transition the table forbids.
var ErrInvalidTransition = errors.New("invalid redline transition")

// SystemActor authors automatic transitions.
const SystemActor = "system"

// manualTransitions lists the allowed targets per state for human actors.
// From approved any state is reachable manually; the automatic path out of
// approved is needs-revision only.
var manualTransitions = map[models.RedlineStatus][]models.RedlineStatus{
	models.RedlineReviewable: {
		models.RedlinePreApproved, models.RedlineNeedsRevision, models.RedlineApproved,
	},
	models.RedlinePreApproved: {
		models.RedlineNeedsRevision, models.RedlineApproved,
	},
	models.RedlineNeedsRevision: {
		models.RedlineReviewable, models.RedlinePreApproved, models.RedlineApproved,
	},
	models.RedlineApproved: {
		models.RedlineReviewable, models.RedlinePreApproved,
		models.RedlineNeedsRevision, models.RedlineApproved,
	},
}

// CanTransition reports whether a manual from→to transition is allowed.
func CanTransition(from, to models.RedlineStatus) bool {
	if from == "" {
		from = models.RedlineReviewable
	}
	for _, allowed := range manualTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a manual status change. Approving captures the Embed's
// current configuration digest so later changes can be detected. History is
// append-only; the caller persists the mutated Embed.
func Transition(emb *models.Embed, to models.RedlineStatus, actor, reason string) error {
	if emb == nil {
		return errors.New("nil embed")
	}
	from := emb.RedlineStatus
	if from == "" {
		from = models.RedlineReviewable
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if to == models.RedlineApproved {
		digest, err := ConfigDigest(emb)
		if err != nil {
			return err
		}
		now := time.Now()
		emb.ApprovedContentHash = digest
		emb.ApprovedBy = actor
		emb.ApprovedAt = &now
	}
	apply(emb, from, to, actor, reason)
	return nil
}

// CheckApproved compares an approved Embed's current configuration digest to
// the digest captured at approval time and auto-demotes to needs-revision on
// mismatch. Returns true when a demotion happened. Embed save paths call
// this after every configuration change.
func CheckApproved(emb *models.Embed) (bool, error) {
	if emb == nil || emb.RedlineStatus != models.RedlineApproved || emb.ApprovedContentHash == "" {
		return false, nil
	}
	digest, err := ConfigDigest(emb)
	if err != nil {
		return false, err
	}
	if digest == emb.ApprovedContentHash {
		return false, nil
	}
	apply(emb, models.RedlineApproved, models.RedlineNeedsRevision,
		SystemActor, "approved content changed")
	return true, nil
}

// ConfigDigest is the version digest of the Embed with the review bookkeeping
// blanked out, so approving (or re-reviewing) an Embed never perturbs the
// digest the approval compares against.
func ConfigDigest(emb *models.Embed) (string, error) {
	c := *emb
	c.RedlineStatus = ""
	c.ApprovedContentHash = ""
	c.ApprovedBy = ""
	c.ApprovedAt = nil
	c.StatusHistory = nil
	return contenthash.VersionDigest(&c)
}

func apply(emb *models.Embed, from, to models.RedlineStatus, actor, reason string) {
	emb.RedlineStatus = to
	emb.StatusHistory = append(emb.StatusHistory, models.StatusChange{
		Status:         to,
		PreviousStatus: from,
		ChangedBy:      actor,
		ChangedAt:      time.Now(),
		Reason:         reason,
	})
}

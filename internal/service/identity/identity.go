// Package identity verifies a claimed business identity against the public
// business register.
//
// Verification is decided by the registry status alone; there is no AI path.
// Outcomes still go through the arbiter's recorder so they land in the same
// ledger and fallback tables as the AI-backed domains.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/heuristics"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/registry"
	"github.com/ashita-ai/kensa/internal/storage"
)

// ErrInvalidInput marks requests rejected before any lookup.
var ErrInvalidInput = errors.New("identity: invalid input")

// Service runs identity checks.
type Service struct {
	arb      *arbiter.Arbiter
	registry registry.Client
	store    storage.IdentityStore
	logger   *slog.Logger
}

// New creates an identity Service. store may be nil to skip persisting
// verification rows.
func New(arb *arbiter.Arbiter, reg registry.Client, store storage.IdentityStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{arb: arb, registry: reg, store: store, logger: logger}
}

// Verify looks up req.Identifier and decides verification. A missing or
// checksum-invalid identifier returns ErrInvalidInput; every other failure
// is folded into a manual-review result with a recorded fallback.
func (s *Service) Verify(ctx context.Context, req model.IdentityRequest) (model.IdentityResult, error) {
	abn := registry.NormalizeABN(req.Identifier)
	if abn == "" {
		return model.IdentityResult{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if !registry.ValidABN(abn) {
		return model.IdentityResult{}, fmt.Errorf("%w: identifier fails checksum", ErrInvalidInput)
	}
	if len(req.BusinessName) > model.MaxBusinessNameLen {
		return model.IdentityResult{}, fmt.Errorf("%w: business_name exceeds maximum length of %d bytes",
			ErrInvalidInput, model.MaxBusinessNameLen)
	}

	in := heuristics.IdentityInput{ClaimedName: strings.TrimSpace(req.BusinessName)}
	rec, err := s.registry.Lookup(ctx, abn)
	switch {
	case errors.Is(err, registry.ErrInvalidIdentifier):
		return model.IdentityResult{}, fmt.Errorf("%w: identifier fails checksum", ErrInvalidInput)
	case err != nil:
		s.logger.Warn("identity: registry lookup failed", "identifier", abn, "error", err)
		in.LookupFailed = true
	default:
		in.Record = &rec
	}

	v := heuristics.EvaluateIdentity(in)
	var subjectID int64
	if req.BusinessID != nil {
		subjectID = *req.BusinessID
	}
	if v.FallbackReason != "" {
		s.arb.Fallback(ctx, model.DomainIdentity, subjectID, v.FallbackReason)
	}

	j := model.Judgment{
		Action:     v.Action,
		Confidence: model.ClampConfidence(v.Confidence),
		Reason:     v.Reason,
		Source:     model.SourceHeuristic,
		Meta: model.JudgmentMeta{
			Mode:           s.arb.Mode(model.DomainIdentity),
			FallbackReason: v.FallbackReason,
			Details:        map[string]any{"similarity": v.Similarity},
		},
	}
	if v.MatchedName != "" {
		j.Meta.Details["matched_name"] = v.MatchedName
	}

	var raw []byte
	if in.Record != nil {
		raw = in.Record.Raw
	}
	s.logCheck(ctx, req, abn, v)
	if req.BusinessID != nil {
		s.persist(ctx, req, abn, v, in.Record, raw)
	}
	s.arb.Record(ctx, model.DomainIdentity, subjectID, j, raw)

	res := model.IdentityResult{
		Judgment:             j,
		Verified:             v.Verified,
		Similarity:           v.Similarity,
		MatchedName:          v.MatchedName,
		RequiresManualReview: !v.Verified,
		Record:               in.Record,
	}
	return res, nil
}

// logCheck appends every outcome to the check log so the fallback rate
// counts checks on both sides of the ratio.
func (s *Service) logCheck(ctx context.Context, req model.IdentityRequest, abn string, v heuristics.IdentityVerdict) {
	if s.store == nil {
		return
	}
	err := s.store.RecordIdentityCheck(context.WithoutCancel(ctx), model.IdentityCheck{
		BusinessID: req.BusinessID,
		Identifier: abn,
		Verified:   v.Verified,
		Reason:     v.FallbackReason,
	})
	if err != nil {
		s.logger.Error("identity: check log write failed", "identifier", abn, "error", err)
	}
}

func (s *Service) persist(ctx context.Context, req model.IdentityRequest, abn string, v heuristics.IdentityVerdict, rec *model.RegistryRecord, raw []byte) {
	if s.store == nil {
		return
	}
	status := ""
	if rec != nil {
		status = rec.Status
	}
	row := model.IdentityVerification{
		BusinessID:   req.BusinessID,
		Identifier:   abn,
		BusinessName: req.BusinessName,
		MatchedName:  v.MatchedName,
		Similarity:   v.Similarity,
		Status:       status,
		Verified:     v.Verified,
		Reason:       v.FallbackReason,
		Raw:          raw,
	}
	if err := s.store.UpsertIdentityVerification(context.WithoutCancel(ctx), row); err != nil {
		s.logger.Error("identity: verification write failed",
			"business_id", *req.BusinessID, "identifier", abn, "error", err)
	}
}

package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/domain/token"
	"github.com/ehr/eligibility/internal/platform/auth"
	"github.com/ehr/eligibility/internal/platform/blobstore"
	"github.com/ehr/eligibility/internal/platform/middleware"
	"github.com/ehr/eligibility/pkg/client"
)

// Gateway is the proxy surface the orchestrator calls. *client.Client
// satisfies it.
type Gateway interface {
	Eligibility(ctx context.Context, req client.EligibilityRequest) (json.RawMessage, error)
	Coverage(ctx context.Context, req client.CoverageRequest) (json.RawMessage, error)
	MemberCard(ctx context.Context, req client.MemberCardRequest) (*client.MemberCardData, error)
	NetworkStatus(ctx context.Context, req client.NetworkStatusRequest) (json.RawMessage, error)
}

// TokenSource hands out bearer tokens. *token.Manager satisfies it.
// InvalidateIf clears the cached token only while it equals value.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
	InvalidateIf(ctx context.Context, value string) bool
}

// Orchestrator runs one search end to end: token, eligibility lookup, then
// the coverage and member card enrichments, then persistence. The steps run
// strictly in sequence.
type Orchestrator struct {
	tokens  TokenSource
	gateway Gateway
	repo    SearchRepository
	blobs   blobstore.Store
	logger  zerolog.Logger
	now     func() time.Time
}

func NewOrchestrator(tokens TokenSource, gw Gateway, repo SearchRepository, blobs blobstore.Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		tokens:  tokens,
		gateway: gw,
		repo:    repo,
		blobs:   blobs,
		logger:  logger,
		now:     time.Now,
	}
}

// Search performs the search. It returns *ValidationError or *SearchError
// for terminal failures; enrichment and persistence failures only add
// diagnostics to the result.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if missing := req.Missing(); len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}
	log := o.logger.With().Str("member_id", middleware.MaskMemberID(req.MemberID)).Logger()
	if rid := middleware.RequestIDFromContext(ctx); rid != "" {
		log = log.With().Str("request_id", rid).Logger()
	}

	// EnsureToken
	tok, err := o.tokens.EnsureToken(ctx)
	if err != nil {
		msg := err.Error()
		status := 0
		var acqErr *token.AcquisitionError
		if errors.As(err, &acqErr) {
			msg, status = acqErr.Message, acqErr.Status
		}
		log.Warn().Err(err).Str("stage", StageNoToken).Msg("search aborted")
		return nil, &SearchError{Stage: StageNoToken, Status: status, Message: msg, Err: err}
	}

	// Eligibility
	elig, err := o.gateway.Eligibility(ctx, req.toGateway(tok))
	if err != nil {
		status := client.StatusOf(err)
		if status == http.StatusUnauthorized {
			cleared := o.tokens.InvalidateIf(ctx, tok)
			log.Warn().Bool("cleared", cleared).Msg("eligibility lookup rejected the token")
		}
		log.Warn().Err(err).Str("stage", StageEligibility).Msg("search aborted")
		return nil, &SearchError{Stage: StageEligibility, Status: status, Message: client.MessageOf(err), Err: err}
	}

	result := &SearchResult{}
	policy, err := ExtractFirstPolicy(elig)
	if err != nil {
		log.Warn().Err(err).Msg("could not read policy from eligibility response")
	}
	result.Policy = policy

	record := &SearchRecord{
		MemberID:    strings.TrimSpace(req.MemberID),
		DateOfBirth: req.DateOfBirth,
		PatientName: policy.PatientName(),
		SearchedAt:  o.now().UTC(),
		SearchedBy:  auth.UserIDFromContext(ctx),
		Eligibility: elig,
	}
	if record.PatientName == "" {
		record.PatientName = strings.TrimSpace(req.FirstName + " " + req.LastName)
	}
	result.Record = record

	// CoverageAttempt
	if missing := policy.CoverageKeysMissing(); len(missing) > 0 {
		result.note(StageCoverage, "skipped: missing "+strings.Join(missing, ", "))
	} else {
		cov, err := o.gateway.Coverage(ctx, client.CoverageRequest{
			Token:         tok,
			PatientKey:    policy.PatientKey,
			TransactionID: policy.TransactionID,
		})
		if err != nil {
			log.Warn().Err(err).Str("stage", StageCoverage).Msg("enrichment failed")
			result.note(StageCoverage, client.MessageOf(err))
		} else {
			record.Coverage = cov
		}
	}

	// MemberCardAttempt
	if policy.DateOfBirth == "" {
		policy.DateOfBirth = req.DateOfBirth
	}
	if missing := policy.MemberCardKeysMissing(); len(missing) > 0 {
		result.note(StageMemberCard, "skipped: missing "+strings.Join(missing, ", "))
	} else {
		card, err := o.gateway.MemberCard(ctx, client.MemberCardRequest{
			Token:         tok,
			TransactionID: policy.TransactionID,
			MemberID:      policy.MemberID,
			DateOfBirth:   policy.DateOfBirth,
			PayerID:       policy.PayerID,
			FirstName:     policy.FirstName,
		})
		if err != nil {
			log.Warn().Err(err).Str("stage", StageMemberCard).Msg("enrichment failed")
			result.note(StageMemberCard, client.MessageOf(err))
		} else {
			mc, err := o.storeCard(ctx, card)
			if err != nil {
				log.Warn().Err(err).Str("stage", StageMemberCard).Msg("storing member card failed")
				result.note(StageMemberCard, err.Error())
			} else {
				record.MemberCard = mc
			}
		}
	}

	// Persist
	if err := o.repo.Create(ctx, record); err != nil {
		log.Warn().Err(err).Str("stage", StagePersist).Msg("saving search failed")
		result.note(StagePersist, err.Error())
	} else {
		result.Persisted = true
	}

	log.Info().
		Str("search_id", record.ID.String()).
		Bool("coverage", record.HasCoverage()).
		Bool("member_card", record.MemberCard != nil).
		Bool("persisted", result.Persisted).
		Msg("search completed")
	return result, nil
}

func (o *Orchestrator) storeCard(ctx context.Context, card *client.MemberCardData) (*MemberCard, error) {
	mc := &MemberCard{ContentType: card.ContentType, Message: card.Message}
	if !card.IsImage() {
		return mc, nil
	}
	if o.blobs == nil {
		return nil, fmt.Errorf("no blob store configured")
	}
	key := "member-cards/" + uuid.NewString()
	if err := o.blobs.Put(ctx, key, card.ImageData, card.ContentType); err != nil {
		return nil, fmt.Errorf("storing member card image: %w", err)
	}
	mc.BlobKey = key
	mc.Size = len(card.ImageData)
	return mc, nil
}

// NetworkStatus is a single token-gated network status lookup.
func (o *Orchestrator) NetworkStatus(ctx context.Context, req client.NetworkStatusRequest) (json.RawMessage, error) {
	var missing []string
	for _, f := range req.Missing() {
		if f != "token" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	tok, err := o.tokens.EnsureToken(ctx)
	if err != nil {
		var acqErr *token.AcquisitionError
		if errors.As(err, &acqErr) {
			return nil, &SearchError{Stage: StageNoToken, Status: acqErr.Status, Message: acqErr.Message, Err: err}
		}
		return nil, &SearchError{Stage: StageNoToken, Message: err.Error(), Err: err}
	}
	req.Token = tok

	data, err := o.gateway.NetworkStatus(ctx, req)
	if err != nil {
		status := client.StatusOf(err)
		if status == http.StatusUnauthorized {
			o.tokens.InvalidateIf(ctx, tok)
		}
		return nil, &SearchError{Stage: StageNetworkStatus, Status: status, Message: client.MessageOf(err), Err: err}
	}
	return data, nil
}

// MemberCardImage loads the stored card image for a record.
func (o *Orchestrator) MemberCardImage(ctx context.Context, rec *SearchRecord) (*blobstore.Blob, error) {
	if !rec.MemberCard.HasImage() || o.blobs == nil {
		return nil, blobstore.ErrBlobNotFound
	}
	return o.blobs.Get(ctx, rec.MemberCard.BlobKey)
}

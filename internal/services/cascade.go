package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/types"
)

// CascadeService maintains companion memberships: a paid primary membership
// carrying the companion flag guarantees exactly one active AMAIR membership
// for the same member and year.
type CascadeService interface {
	// EnsureCompanion is re-entrant: a second call for the same primary
	// membership is a no-op. A pending companion created independently is
	// absorbed rather than duplicated; a concurrent create losing the unique
	// index race is absorbed the same way.
	EnsureCompanion(ctx context.Context, primary *types.Membership) (*types.Membership, error)
}

type cascadeService struct {
	db             *gorm.DB
	log            *logger.Logger
	membershipRepo repos.MembershipRepo
	certificates   CertificateService
}

func NewCascadeService(db *gorm.DB, log *logger.Logger, membershipRepo repos.MembershipRepo, certificates CertificateService) CascadeService {
	return &cascadeService{
		db:             db,
		log:            log.With("service", "CascadeService"),
		membershipRepo: membershipRepo,
		certificates:   certificates,
	}
}

func (s *cascadeService) EnsureCompanion(ctx context.Context, primary *types.Membership) (*types.Membership, error) {
	if primary == nil || !primary.GrantsCompanion || primary.Organization != types.OrgSAR {
		return nil, nil
	}

	existing, err := s.membershipRepo.GetByKey(ctx, nil, primary.MemberID, types.OrgAMAIR, primary.Year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.absorb(ctx, existing)
	}

	companion := &types.Membership{
		MemberID:         primary.MemberID,
		Organization:     types.OrgAMAIR,
		Year:             primary.Year,
		Category:         primary.Category,
		AmountCents:      0,
		Status:           types.MembershipActive,
		GrantsCompanion:  false,
		FreeViaCompanion: true,
	}
	if err := s.membershipRepo.Create(ctx, nil, companion); err != nil {
		// A concurrent trigger won the unique index race: absorb its row.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, getErr := s.membershipRepo.GetByKey(ctx, nil, primary.MemberID, types.OrgAMAIR, primary.Year)
			if getErr != nil {
				return nil, getErr
			}
			if winner == nil {
				return nil, err
			}
			return s.absorb(ctx, winner)
		}
		return nil, err
	}

	s.issueCertificate(ctx, companion)
	return companion, nil
}

// absorb promotes a pre-existing companion that is not yet active; an already
// active one is left untouched.
func (s *cascadeService) absorb(ctx context.Context, companion *types.Membership) (*types.Membership, error) {
	if companion.Status == types.MembershipActive {
		return companion, nil
	}
	promoted, err := s.membershipRepo.SetStatusIf(ctx, nil, companion.ID,
		[]types.MembershipStatus{types.MembershipPending, types.MembershipPaymentRequested},
		types.MembershipActive)
	if err != nil {
		return nil, err
	}
	if !promoted {
		// Terminal status or a concurrent promoter; either way the current row
		// is the answer.
		return s.membershipRepo.GetByID(ctx, nil, companion.ID)
	}
	companion.Status = types.MembershipActive
	s.issueCertificate(ctx, companion)
	return companion, nil
}

func (s *cascadeService) issueCertificate(ctx context.Context, companion *types.Membership) {
	member := companion.Member
	if member == nil {
		loaded, err := s.membershipRepo.GetByID(ctx, nil, companion.ID)
		if err != nil || loaded == nil {
			s.log.Warn("Could not load companion member for certificate", "membership_id", companion.ID, "error", err)
			return
		}
		member = loaded.Member
	}
	key, err := s.certificates.IssueForMembership(ctx, companion, member)
	if err != nil {
		s.log.Error("Companion certificate issue failed, payment state unaffected",
			"membership_id", companion.ID, "error", err)
		return
	}
	if err := s.membershipRepo.SetCertificateKey(ctx, nil, companion.ID, key); err != nil {
		s.log.Error("Could not persist companion certificate key", "membership_id", companion.ID, "error", err)
	}
}

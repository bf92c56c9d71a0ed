package services

import (
	"context"
	"fmt"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/gcp"
	"github.com/hivedesk/membership-backend/internal/types"
)

// DocumentRenderer turns a record into document bytes. certimg.Renderer is the
// default implementation; tests plug in a counter fake.
type DocumentRenderer interface {
	RenderMembershipCertificate(membership *types.Membership, member *types.Member) ([]byte, error)
	RenderSubscriptionCertificate(sub *types.Subscription, member *types.Member) ([]byte, error)
}

// CertificateService renders a certificate and stores it, returning the object
// key. Callers treat failures as non-fatal side effects: the payment state has
// already committed when a certificate is issued.
type CertificateService interface {
	IssueForMembership(ctx context.Context, membership *types.Membership, member *types.Member) (string, error)
	IssueForSubscription(ctx context.Context, sub *types.Subscription, member *types.Member) (string, error)
}

type certificateService struct {
	log      *logger.Logger
	renderer DocumentRenderer
	store    gcp.BucketService
}

func NewCertificateService(log *logger.Logger, renderer DocumentRenderer, store gcp.BucketService) CertificateService {
	return &certificateService{
		log:      log.With("service", "CertificateService"),
		renderer: renderer,
		store:    store,
	}
}

func (s *certificateService) IssueForMembership(ctx context.Context, membership *types.Membership, member *types.Member) (string, error) {
	data, err := s.renderer.RenderMembershipCertificate(membership, member)
	if err != nil {
		return "", fmt.Errorf("render membership certificate: %w", err)
	}
	key := fmt.Sprintf("certificates/%d/membership-%s.png", membership.Year, membership.ID)
	if err := s.store.Upload(ctx, key, data, "image/png"); err != nil {
		return "", fmt.Errorf("store membership certificate: %w", err)
	}
	return key, nil
}

func (s *certificateService) IssueForSubscription(ctx context.Context, sub *types.Subscription, member *types.Member) (string, error) {
	data, err := s.renderer.RenderSubscriptionCertificate(sub, member)
	if err != nil {
		return "", fmt.Errorf("render subscription certificate: %w", err)
	}
	key := fmt.Sprintf("certificates/%d/subscription-%s.png", sub.Year, sub.ID)
	if err := s.store.Upload(ctx, key, data, "image/png"); err != nil {
		return "", fmt.Errorf("store subscription certificate: %w", err)
	}
	return key, nil
}

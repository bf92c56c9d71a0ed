package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/gcp"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/types"
	"github.com/hivedesk/membership-backend/internal/utils"
)

// ExportItem is one exportable line: a paid subscription, or one paid
// modification entry of a subscription.
type ExportItem struct {
	Subscription *types.Subscription
	Modification *types.ModificationEntry
}

func (i ExportItem) AmountCents() int64 {
	if i.Modification != nil {
		return i.Modification.ExtraAmountCents
	}
	return i.Subscription.AmountCents
}

// ActivationReport accumulates per-item outcomes of Activate; one failing
// item does not abort the batch.
type ActivationReport struct {
	Activated []uuid.UUID
	Errors    []error
}

// ExportService submits paid items to the partner exactly once. Items are
// flagged exported in the same transaction that records the batch, and only
// after the file is durably stored.
type ExportService interface {
	CollectPending(ctx context.Context, year int) ([]ExportItem, error)
	Generate(ctx context.Context, year int, items []ExportItem) (*types.ExportBatch, error)
	Send(ctx context.Context, batchID uuid.UUID) (*types.ExportBatch, error)
	Activate(ctx context.Context, batchID uuid.UUID) (*ActivationReport, error)
}

type exportService struct {
	db               *gorm.DB
	log              *logger.Logger
	subscriptionRepo repos.SubscriptionRepo
	modificationRepo repos.ModificationRepo
	batchRepo        repos.ExportBatchRepo
	store            gcp.BucketService
	notifier         Notifier
	certificates     CertificateService
	paymentMethod    string
}

func NewExportService(
	db *gorm.DB,
	log *logger.Logger,
	subscriptionRepo repos.SubscriptionRepo,
	modificationRepo repos.ModificationRepo,
	batchRepo repos.ExportBatchRepo,
	store gcp.BucketService,
	notifier Notifier,
	certificates CertificateService,
) ExportService {
	return &exportService{
		db:               db,
		log:              log.With("service", "ExportService"),
		subscriptionRepo: subscriptionRepo,
		modificationRepo: modificationRepo,
		batchRepo:        batchRepo,
		store:            store,
		notifier:         notifier,
		certificates:     certificates,
		paymentMethod:    utils.GetEnv("EXPORT_PAYMENT_METHOD_LABEL", "bank transfer", log),
	}
}

func (s *exportService) CollectPending(ctx context.Context, year int) ([]ExportItem, error) {
	subs, err := s.subscriptionRepo.ListUnexportedPaid(ctx, nil, year)
	if err != nil {
		return nil, err
	}
	items := make([]ExportItem, 0, len(subs))
	inBatch := map[uuid.UUID]*types.Subscription{}
	for _, sub := range subs {
		items = append(items, ExportItem{Subscription: sub})
		inBatch[sub.ID] = sub
	}

	mods, err := s.modificationRepo.ListUnexportedPaid(ctx, nil, year)
	if err != nil {
		return nil, err
	}
	for _, mod := range mods {
		// The subscription row already reflects an applied modification, so a
		// modification whose parent ships in the same batch would double the
		// partner's view of it. It will be flagged with the batch regardless.
		if _, shipped := inBatch[mod.SubscriptionID]; shipped {
			continue
		}
		parent, err := s.subscriptionRepo.GetByID(ctx, nil, mod.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			s.log.Warn("Modification without parent subscription skipped", "modification_id", mod.ID)
			continue
		}
		items = append(items, ExportItem{Subscription: parent, Modification: mod})
	}
	return items, nil
}

func (s *exportService) Generate(ctx context.Context, year int, items []ExportItem) (*types.ExportBatch, error) {
	if len(items) == 0 {
		return nil, apierr.NothingToExport(year)
	}

	now := time.Now().UTC()
	previous, err := s.batchRepo.CountForYear(ctx, nil, year)
	if err != nil {
		return nil, err
	}

	data, err := buildExportFile(exportFileHeader{
		ExportDate:    now,
		PaymentMethod: s.paymentMethod,
		FirstOfYear:   previous == 0,
	}, items)
	if err != nil {
		return nil, err
	}

	// Store first: a storage failure leaves every item unexported so a retry
	// re-collects them. The orphan object from a crash after this point is the
	// accepted residual gap.
	fileKey := fmt.Sprintf("exports/%d/partner-%s.csv", year, now.Format("20060102-150405"))
	if err := s.store.Upload(ctx, fileKey, data, "text/csv"); err != nil {
		return nil, fmt.Errorf("store export file: %w", err)
	}

	batch := &types.ExportBatch{
		Year:      year,
		BatchDate: now,
		ItemCount: len(items),
		FileKey:   fileKey,
	}

	subIDs := make([]uuid.UUID, 0, len(items))
	modIDs := make([]uuid.UUID, 0)
	for _, item := range items {
		batch.TotalCents += item.AmountCents()
		if item.Modification != nil {
			modID := item.Modification.ID
			modIDs = append(modIDs, modID)
			batch.Items = append(batch.Items, types.ExportBatchItem{
				SubscriptionID: item.Subscription.ID,
				ModificationID: &modID,
				AmountCents:    item.AmountCents(),
			})
			continue
		}
		subIDs = append(subIDs, item.Subscription.ID)
		batch.Items = append(batch.Items, types.ExportBatchItem{
			SubscriptionID: item.Subscription.ID,
			AmountCents:    item.AmountCents(),
		})
		// Applied modifications ship inside the parent row; flag them so they
		// can never resurface in a later batch.
		for _, mod := range item.Subscription.Modifications {
			if mod.PaymentStatus == types.PaymentPaid && !mod.Exported {
				modIDs = append(modIDs, mod.ID)
			}
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		marked, err := s.subscriptionRepo.MarkExported(ctx, tx, subIDs, now)
		if err != nil {
			return err
		}
		if marked != int64(len(subIDs)) {
			return apierr.DuplicateEntity("a concurrent export already claimed %d of %d subscriptions",
				int64(len(subIDs))-marked, len(subIDs))
		}
		markedMods, err := s.modificationRepo.MarkExported(ctx, tx, modIDs)
		if err != nil {
			return err
		}
		if markedMods != int64(len(modIDs)) {
			return apierr.DuplicateEntity("a concurrent export already claimed %d of %d modifications",
				int64(len(modIDs))-markedMods, len(modIDs))
		}
		return s.batchRepo.Create(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Export batch generated",
		"batch_id", batch.ID, "year", year, "items", batch.ItemCount,
		"total_cents", batch.TotalCents, "file_key", fileKey)
	return batch, nil
}

func (s *exportService) Send(ctx context.Context, batchID uuid.UUID) (*types.ExportBatch, error) {
	batch, err := s.batchRepo.GetByID(ctx, nil, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, apierr.NotFound("export batch %s not found", batchID)
	}
	if batch.SendStatus == types.SendSent {
		return nil, apierr.AlreadySent(batchID.String())
	}

	data, err := s.store.Download(ctx, batch.FileKey)
	if err != nil {
		return nil, fmt.Errorf("load export file: %w", err)
	}
	filename := fmt.Sprintf("export-%s.csv", batch.BatchDate.Format("20060102"))
	if err := s.notifier.SendExportFile(ctx, batch, filename, data); err != nil {
		return nil, err
	}

	changed, err := s.batchRepo.MarkSentIf(ctx, nil, batchID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, apierr.AlreadySent(batchID.String())
	}
	s.log.Info("Export batch sent", "batch_id", batchID, "items", batch.ItemCount)
	return s.batchRepo.GetByID(ctx, nil, batchID)
}

func (s *exportService) Activate(ctx context.Context, batchID uuid.UUID) (*ActivationReport, error) {
	batch, err := s.batchRepo.GetByID(ctx, nil, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, apierr.NotFound("export batch %s not found", batchID)
	}

	report := &ActivationReport{}
	seen := map[uuid.UUID]struct{}{}
	for _, item := range batch.Items {
		if item.ModificationID != nil {
			continue
		}
		if _, dup := seen[item.SubscriptionID]; dup {
			continue
		}
		seen[item.SubscriptionID] = struct{}{}

		promoted, err := s.subscriptionRepo.SetStatusIf(ctx, nil, item.SubscriptionID,
			[]types.SubscriptionStatus{types.SubscriptionAwaitingValidation}, types.SubscriptionActive)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("activate subscription %s: %w", item.SubscriptionID, err))
			continue
		}
		if !promoted {
			continue
		}
		report.Activated = append(report.Activated, item.SubscriptionID)

		sub, err := s.subscriptionRepo.GetByID(ctx, nil, item.SubscriptionID)
		if err != nil || sub == nil {
			report.Errors = append(report.Errors, fmt.Errorf("reload subscription %s: %w", item.SubscriptionID, err))
			continue
		}
		if key, err := s.certificates.IssueForSubscription(ctx, sub, sub.Member); err != nil {
			s.log.Error("Certificate issue failed after activation", "subscription_id", sub.ID, "error", err)
			report.Errors = append(report.Errors, fmt.Errorf("certificate for subscription %s: %w", sub.ID, err))
		} else if err := s.subscriptionRepo.SetCertificateKey(ctx, nil, sub.ID, key); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("persist certificate key for %s: %w", sub.ID, err))
		}
	}

	s.log.Info("Export batch activation finished",
		"batch_id", batchID, "activated", len(report.Activated), "errors", len(report.Errors))
	return report, nil
}

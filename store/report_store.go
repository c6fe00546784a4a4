package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"umamicore/api/models"
)

// ReportStore keeps saved reports and segments. Every call is scoped to one
// website.
type ReportStore struct {
	db *gorm.DB
}

func NewReportStore(db *gorm.DB) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) CreateReport(ctx context.Context, websiteID uuid.UUID, r *models.Report) error {
	if r.WebsiteID != websiteID {
		return fmt.Errorf("%w: report for website %s saved under %s", models.ErrTenantMismatch, r.WebsiteID, websiteID)
	}
	return wrap("create report", s.db.WithContext(ctx).Create(r).Error)
}

func (s *ReportStore) ListReports(ctx context.Context, websiteID uuid.UUID) ([]models.Report, error) {
	var out []models.Report
	err := s.db.WithContext(ctx).
		Where("website_id = ?", websiteID).
		Order("created_at ASC, report_id ASC").
		Find(&out).Error
	return out, wrap("list reports", err)
}

func (s *ReportStore) GetReport(ctx context.Context, websiteID, reportID uuid.UUID) (*models.Report, error) {
	var r models.Report
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND report_id = ?", websiteID, reportID).
		Take(&r).Error
	if err != nil {
		return nil, wrap("get report", err)
	}
	return &r, nil
}

// FindReport locates a report by id alone, so the caller can authorize its
// website before touching it.
func (s *ReportStore) FindReport(ctx context.Context, reportID uuid.UUID) (*models.Report, error) {
	var r models.Report
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Take(&r).Error; err != nil {
		return nil, wrap("find report", err)
	}
	return &r, nil
}

func (s *ReportStore) UpdateReport(ctx context.Context, websiteID, reportID uuid.UUID, name, description string, params datatypes.JSON) error {
	res := s.db.WithContext(ctx).Model(&models.Report{}).
		Where("website_id = ? AND report_id = ?", websiteID, reportID).
		Updates(map[string]any{
			"name":        name,
			"description": description,
			"parameters":  params,
			"updated_at":  time.Now().UTC().Truncate(time.Microsecond),
		})
	if res.Error != nil {
		return wrap("update report", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: report %s", models.ErrNotFound, reportID)
	}
	return nil
}

func (s *ReportStore) DeleteReport(ctx context.Context, websiteID, reportID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("website_id = ? AND report_id = ?", websiteID, reportID).
		Delete(&models.Report{})
	if res.Error != nil {
		return wrap("delete report", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: report %s", models.ErrNotFound, reportID)
	}
	return nil
}

func (s *ReportStore) CreateSegment(ctx context.Context, websiteID uuid.UUID, seg *models.Segment) error {
	if seg.WebsiteID != websiteID {
		return fmt.Errorf("%w: segment for website %s saved under %s", models.ErrTenantMismatch, seg.WebsiteID, websiteID)
	}
	return wrap("create segment", s.db.WithContext(ctx).Create(seg).Error)
}

func (s *ReportStore) ListSegments(ctx context.Context, websiteID uuid.UUID) ([]models.Segment, error) {
	var out []models.Segment
	err := s.db.WithContext(ctx).
		Where("website_id = ?", websiteID).
		Order("created_at ASC, segment_id ASC").
		Find(&out).Error
	return out, wrap("list segments", err)
}

func (s *ReportStore) GetSegment(ctx context.Context, websiteID, segmentID uuid.UUID) (*models.Segment, error) {
	var seg models.Segment
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND segment_id = ?", websiteID, segmentID).
		Take(&seg).Error
	if err != nil {
		return nil, wrap("get segment", err)
	}
	return &seg, nil
}

func (s *ReportStore) DeleteSegment(ctx context.Context, websiteID, segmentID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("website_id = ? AND segment_id = ?", websiteID, segmentID).
		Delete(&models.Segment{})
	if res.Error != nil {
		return wrap("delete segment", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: segment %s", models.ErrNotFound, segmentID)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrAlreadyOnChain   = errors.New("project already marked on-chain")
	ErrStatusNotForward = errors.New("status update would demote the project")
)

// ProjectRepository persists the marketplace project mirror.
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	Update(ctx context.Context, project *model.Project) error

	// MarkOnChain flips the on-chain flag exactly once and stores the
	// confirmation snapshot. A second call for the same project
	// returns ErrAlreadyOnChain.
	MarkOnChain(ctx context.Context, id string, data *model.BlockchainData) error

	// PromoteStatus moves the lifecycle status forward. Demotions are
	// rejected.
	PromoteStatus(ctx context.Context, id string, status model.ProjectStatus) error

	// RecordChainFailure stores a failure snapshot without touching
	// the on-chain flag or the lifecycle status.
	RecordChainFailure(ctx context.Context, id string, data *model.BlockchainData) error

	ListByStatus(ctx context.Context, status model.ProjectStatus, page *Pagination) ([]*model.Project, error)
	ListOnChain(ctx context.Context, page *Pagination) ([]*model.Project, error)
}

type projectRepository struct {
	*Repository
}

// NewProjectRepository creates the project mirror repository.
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{Repository: NewRepository(db)}
}

func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	now := time.Now().UnixMilli()
	project.CreatedAt = now
	project.UpdatedAt = now
	if project.Status == "" {
		project.Status = model.ProjectStatusDraft
	}
	return r.DB(ctx).Create(project).Error
}

func (r *projectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var project model.Project
	err := r.DB(ctx).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) Update(ctx context.Context, project *model.Project) error {
	project.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(project).Error
}

func (r *projectRepository) MarkOnChain(ctx context.Context, id string, data *model.BlockchainData) error {
	snapshot := &model.Project{}
	if err := snapshot.SetBlockchainData(data); err != nil {
		return err
	}

	// the WHERE on_chain = false guard makes the flip idempotent
	// under concurrent confirmation callbacks
	result := r.DB(ctx).Model(&model.Project{}).
		Where("id = ? AND on_chain = ?", id, false).
		Updates(map[string]interface{}{
			"on_chain":         true,
			"contract_address": data.ContractAddress,
			"blockchain_data":  snapshot.BlockchainData,
			"updated_at":       time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.DB(ctx).Model(&model.Project{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrProjectNotFound
		}
		return ErrAlreadyOnChain
	}
	return nil
}

func (r *projectRepository) PromoteStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	if status.Rank() < 0 {
		return ErrStatusNotForward
	}

	// enumerate the statuses below the target so the UPDATE itself
	// enforces forward-only movement
	var lower []model.ProjectStatus
	for _, s := range []model.ProjectStatus{
		model.ProjectStatusDraft,
		model.ProjectStatusPublished,
		model.ProjectStatusInProduction,
		model.ProjectStatusCompleted,
	} {
		if s.Rank() < status.Rank() {
			lower = append(lower, s)
		}
	}

	result := r.DB(ctx).Model(&model.Project{}).
		Where("id = ? AND status IN ?", id, lower).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.DB(ctx).Model(&model.Project{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrProjectNotFound
		}
		// already at or beyond the target, nothing to do
		return nil
	}
	return nil
}

func (r *projectRepository) RecordChainFailure(ctx context.Context, id string, data *model.BlockchainData) error {
	snapshot := &model.Project{}
	if err := snapshot.SetBlockchainData(data); err != nil {
		return err
	}

	result := r.DB(ctx).Model(&model.Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"blockchain_data": snapshot.BlockchainData,
			"updated_at":      time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *projectRepository) ListByStatus(ctx context.Context, status model.ProjectStatus, page *Pagination) ([]*model.Project, error) {
	var projects []*model.Project

	query := r.DB(ctx).Model(&model.Project{}).Where("status = ?", status)
	if page != nil {
		if err := query.Count(&page.Total).Error; err != nil {
			return nil, err
		}
		query = query.Offset(page.Offset()).Limit(page.Limit())
	}

	err := query.Order("created_at DESC").Find(&projects).Error
	return projects, err
}

func (r *projectRepository) ListOnChain(ctx context.Context, page *Pagination) ([]*model.Project, error) {
	var projects []*model.Project

	query := r.DB(ctx).Model(&model.Project{}).Where("on_chain = ?", true)
	if page != nil {
		if err := query.Count(&page.Total).Error; err != nil {
			return nil, err
		}
		query = query.Offset(page.Offset()).Limit(page.Limit())
	}

	err := query.Order("updated_at DESC").Find(&projects).Error
	return projects, err
}

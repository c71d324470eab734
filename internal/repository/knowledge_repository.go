package repository

import (
	"context"
	"eduflex_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KnowledgeRepository struct {
	DB *gorm.DB
}

func NewKnowledgeRepository(db *gorm.DB) *KnowledgeRepository {
	return &KnowledgeRepository{DB: db}
}

// LockTopics 在事务中以 FOR UPDATE 读取已有记录
func (r *KnowledgeRepository) LockTopics(ctx context.Context, tx *gorm.DB, userID uint, topicIDs []uint) (map[uint]model.TopicKnowledge, error) {
	out := make(map[uint]model.TopicKnowledge, len(topicIDs))
	if len(topicIDs) == 0 {
		return out, nil
	}
	var rows []model.TopicKnowledge
	err := conn(ctx, r.DB, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND topic_id IN ?", userID, topicIDs).
		Order("topic_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TopicID] = row
	}
	return out, nil
}

// Upsert 以 (user_id, topic_id) 为冲突键写入
func (r *KnowledgeRepository) Upsert(ctx context.Context, tx *gorm.DB, rows []model.TopicKnowledge) error {
	if len(rows) == 0 {
		return nil
	}
	return conn(ctx, r.DB, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "topic_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"knowledge", "observations", "last_attempt_id", "updated_at"}),
	}).Create(&rows).Error
}

func (r *KnowledgeRepository) Get(ctx context.Context, userID, topicID uint) (*model.TopicKnowledge, error) {
	var row model.TopicKnowledge
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		First(&row).Error
	return &row, err
}

func (r *KnowledgeRepository) ListByUser(ctx context.Context, userID uint) ([]model.TopicKnowledge, error) {
	var rows []model.TopicKnowledge
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("topic_id asc").
		Find(&rows).Error
	return rows, err
}

// ListByUserTopics 缺失的主题不出现在结果中，调用方按 0 处理
func (r *KnowledgeRepository) ListByUserTopics(ctx context.Context, userID uint, topicIDs []uint) (map[uint]float64, error) {
	out := make(map[uint]float64, len(topicIDs))
	if len(topicIDs) == 0 {
		return out, nil
	}
	var rows []model.TopicKnowledge
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND topic_id IN ?", userID, topicIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TopicID] = row.Knowledge
	}
	return out, nil
}

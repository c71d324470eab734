package service

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/util"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
)

// CombineKnowledge folds one new observation into the prior mastery value.
func CombineKnowledge(p config.KnowledgePolicy, prior float64, hasPrior bool, observed float64) float64 {
	observed = util.Clamp(observed, 0, 100)
	if !hasPrior {
		return observed
	}
	switch p.Combine {
	case config.CombineEMA:
		return util.Clamp(p.EMAAlpha*observed+(1-p.EMAAlpha)*prior, 0, 100)
	default:
		if observed > prior {
			return observed
		}
		return prior
	}
}

type KnowledgeLedger struct {
	Repo   *repository.KnowledgeRepository
	Policy *config.PolicyStore
}

func NewKnowledgeLedger(repo *repository.KnowledgeRepository, policy *config.PolicyStore) *KnowledgeLedger {
	return &KnowledgeLedger{Repo: repo, Policy: policy}
}

// RecordAttempt 在提交事务内更新本次涉及主题的掌握度
func (l *KnowledgeLedger) RecordAttempt(ctx context.Context, tx *gorm.DB, attempt *model.Attempt, outcomes []model.QuestionOutcome) ([]model.TopicKnowledge, error) {
	ratios := TopicRatios(outcomes)
	if len(ratios) == 0 {
		return nil, nil
	}

	topicIDs := make([]uint, 0, len(ratios))
	for tid := range ratios {
		topicIDs = append(topicIDs, tid)
	}
	// 固定加锁顺序
	sort.Slice(topicIDs, func(i, j int) bool { return topicIDs[i] < topicIDs[j] })

	existing, err := l.Repo.LockTopics(ctx, tx, attempt.UserID, topicIDs)
	if err != nil {
		return nil, err
	}

	policy := l.Policy.Get().Knowledge
	now := time.Now()
	rows := make([]model.TopicKnowledge, 0, len(topicIDs))
	for _, tid := range topicIDs {
		prior, hasPrior := existing[tid]
		row := model.TopicKnowledge{
			UserID:        attempt.UserID,
			TopicID:       tid,
			Knowledge:     util.Round2(CombineKnowledge(policy, prior.Knowledge, hasPrior, ratios[tid])),
			Observations:  prior.Observations + 1,
			LastAttemptID: attempt.ID,
		}
		row.CreatedAt = now
		row.UpdatedAt = now
		rows = append(rows, row)
	}

	if err := l.Repo.Upsert(ctx, tx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetTopicKnowledge 没有记录时为 0
func (l *KnowledgeLedger) GetTopicKnowledge(ctx context.Context, userID, topicID uint) (float64, error) {
	row, err := l.Repo.Get(ctx, userID, topicID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Knowledge, nil
}

func (l *KnowledgeLedger) Snapshot(ctx context.Context, userID uint, topicIDs []uint) (map[uint]float64, error) {
	return l.Repo.ListByUserTopics(ctx, userID, topicIDs)
}

func (l *KnowledgeLedger) ListForUser(ctx context.Context, userID uint) ([]model.TopicKnowledge, error) {
	return l.Repo.ListByUser(ctx, userID)
}

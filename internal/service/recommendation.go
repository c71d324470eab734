package service

import (
	"eduflex_backend/internal/model"
	"fmt"
	"math"
	"sort"
)

const (
	RecommendationWeakTopic  = "weak_topic"
	RecommendationReviewTest = "review_test"
)

type Recommendation struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	TopicIDs  []uint  `json:"topic_ids"`
	Ratio     float64 `json:"ratio,omitempty"`
	Knowledge float64 `json:"knowledge,omitempty"`
}

// Recommend 根据一次提交生成建议。percent 为 100 时返回空列表，否则至少一条。
// knowledge 为提交之后的主题掌握度快照。
func Recommend(outcome *GradeOutcome, topics map[uint]model.Topic, knowledge map[uint]float64, weakThreshold float64) []Recommendation {
	recs := make([]Recommendation, 0)
	if outcome == nil || outcome.Percent >= 100 {
		return recs
	}

	ratios := TopicRatios(outcome.Outcomes)
	weak := make([]uint, 0, len(ratios))
	for tid, r := range ratios {
		if r < weakThreshold {
			weak = append(weak, tid)
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		a, b := weak[i], weak[j]
		if ratios[a] != ratios[b] {
			return ratios[a] < ratios[b]
		}
		if knowledge[a] != knowledge[b] {
			return knowledge[a] < knowledge[b]
		}
		return a < b
	})

	for _, tid := range weak {
		recs = append(recs, Recommendation{
			Type:      RecommendationWeakTopic,
			Message:   fmt.Sprintf("Review topic %q: %.0f%% correct in this attempt", topicName(topics, tid), math.Round(ratios[tid])),
			TopicIDs:  []uint{tid},
			Ratio:     math.Round(ratios[tid]*100) / 100,
			Knowledge: knowledge[tid],
		})
	}
	if len(recs) > 0 {
		return recs
	}

	missed := missedTopics(outcome.Outcomes)
	msg := "Review the questions you missed and try the test again"
	if len(missed) > 0 {
		names := make([]string, 0, len(missed))
		for _, tid := range missed {
			names = append(names, fmt.Sprintf("%q", topicName(topics, tid)))
		}
		msg = fmt.Sprintf("Review the questions you missed in %v and try the test again", names)
	}
	return append(recs, Recommendation{
		Type:     RecommendationReviewTest,
		Message:  msg,
		TopicIDs: missed,
	})
}

func topicName(topics map[uint]model.Topic, id uint) string {
	if t, ok := topics[id]; ok && t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("#%d", id)
}

// missedTopics 未得分的可评分题目所属主题，去重升序
func missedTopics(outcomes []model.QuestionOutcome) []uint {
	seen := make(map[uint]bool)
	out := make([]uint, 0)
	for _, oc := range outcomes {
		if !oc.AutoGradable || oc.Correct || oc.TopicID == nil || seen[*oc.TopicID] {
			continue
		}
		seen[*oc.TopicID] = true
		out = append(out, *oc.TopicID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecommendationTopicIDs 建议涉及的全部主题
func RecommendationTopicIDs(outcomes []model.QuestionOutcome) []uint {
	seen := make(map[uint]bool)
	out := make([]uint, 0)
	for _, oc := range outcomes {
		if oc.TopicID != nil && !seen[*oc.TopicID] {
			seen[*oc.TopicID] = true
			out = append(out, *oc.TopicID)
		}
	}
	return out
}

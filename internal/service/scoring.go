package service

import (
	"bytes"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/util"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// GradeOutcome 单次提交的评分结果，尚未持久化
type GradeOutcome struct {
	Score       int                     `json:"score"`
	MaxScore    int                     `json:"maxScore"`
	Percent     int                     `json:"percent"`
	Passed      bool                    `json:"passed"`
	PassPercent int                     `json:"passPercent"`
	NeedsReview bool                    `json:"needsReview"`
	Outcomes    []model.QuestionOutcome `json:"outcomes"`
}

// ParseAnswers 解析提交的答案映射：数字为选项 ID，字符串为开放题文本，null 视为未作答
func ParseAnswers(raw map[string]json.RawMessage) (map[uint]model.SubmittedAnswer, error) {
	out := make(map[uint]model.SubmittedAnswer, len(raw))
	for key, value := range raw {
		qid, err := strconv.ParseUint(strings.TrimSpace(key), 10, 32)
		if err != nil || qid == 0 {
			return nil, util.ErrMalformedAnswer.WithDetail("malformed question id %q", key)
		}

		trimmed := bytes.TrimSpace(value)
		switch {
		case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
			continue
		case trimmed[0] == '"':
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return nil, util.ErrMalformedAnswer.WithDetail("malformed answer for question %d", qid)
			}
			out[uint(qid)] = model.SubmittedAnswer{Text: text}
		default:
			var id uint64
			if err := json.Unmarshal(trimmed, &id); err != nil || id == 0 {
				return nil, util.ErrMalformedAnswer.WithDetail("malformed answer for question %d", qid)
			}
			aid := uint(id)
			out[uint(qid)] = model.SubmittedAnswer{AnswerID: &aid}
		}
	}
	return out, nil
}

var folder = cases.Fold()

// NormalizeText 开放题比对用：NFKC、大小写折叠、空白合并
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Percent rounds half away from zero; 0 when max is 0.
func Percent(score, max int) int {
	if max <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(score) / float64(max)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func correctAnswerID(q model.Question) (uint, bool) {
	for _, a := range q.Answers {
		if a.IsCorrect {
			return a.ID, true
		}
	}
	return 0, false
}

func points(q model.Question) int {
	if q.ComplexityPoints < 1 {
		return 1
	}
	return q.ComplexityPoints
}

// Grade scores submitted answers against test.Questions. It is pure: no I/O, no clock.
func Grade(test *model.Test, submitted map[uint]model.SubmittedAnswer, durationMinutes int, passPercent int) (*GradeOutcome, error) {
	if test == nil {
		return nil, util.ErrTestNotFound
	}
	if durationMinutes <= 0 {
		return nil, util.ErrInvalidDuration
	}

	byID := make(map[uint]*model.Question, len(test.Questions))
	for i := range test.Questions {
		byID[test.Questions[i].ID] = &test.Questions[i]
	}
	// 先整体校验，避免部分评分
	for qid, ans := range submitted {
		q, ok := byID[qid]
		if !ok {
			return nil, util.ErrUnknownQuestion.WithDetail("question %d does not belong to test %d", qid, test.ID)
		}
		if q.Type == model.QuestionOpenText {
			if ans.AnswerID != nil {
				return nil, util.ErrMalformedAnswer.WithDetail("question %d expects text", qid)
			}
			continue
		}
		if ans.AnswerID == nil {
			return nil, util.ErrMalformedAnswer.WithDetail("question %d expects an answer id", qid)
		}
		found := false
		for _, a := range q.Answers {
			if a.ID == *ans.AnswerID {
				found = true
				break
			}
		}
		if !found {
			return nil, util.ErrQuestionAnswerMismatch.WithDetail("answer %d does not belong to question %d", *ans.AnswerID, qid)
		}
	}

	out := &GradeOutcome{
		PassPercent: passPercent,
		Outcomes:    make([]model.QuestionOutcome, 0, len(test.Questions)),
	}

	for _, q := range test.Questions {
		ans, answered := submitted[q.ID]
		oc := model.QuestionOutcome{
			QuestionID:   q.ID,
			TopicID:      q.TopicID,
			Points:       points(q),
			AutoGradable: q.AutoGradable(),
		}

		switch q.Type {
		case model.QuestionOpenText:
			oc.Answered = answered && strings.TrimSpace(ans.Text) != ""
			if !oc.AutoGradable {
				if oc.Answered {
					out.NeedsReview = true
				}
				out.Outcomes = append(out.Outcomes, oc)
				continue
			}
			oc.Correct = oc.Answered && NormalizeText(ans.Text) == NormalizeText(q.CanonicalAnswer)
		default:
			oc.Answered = answered && ans.AnswerID != nil
			if cid, ok := correctAnswerID(q); ok && oc.Answered {
				oc.Correct = *ans.AnswerID == cid
			}
		}

		out.MaxScore += oc.Points
		if oc.Correct {
			oc.Awarded = oc.Points
			out.Score += oc.Points
		}
		out.Outcomes = append(out.Outcomes, oc)
	}

	out.Percent = Percent(out.Score, out.MaxScore)
	out.Passed = out.Percent >= passPercent
	return out, nil
}

// TopicRatios 本次提交中每个主题的得分率（0-100），只统计可自动评分的题目
func TopicRatios(outcomes []model.QuestionOutcome) map[uint]float64 {
	awarded := make(map[uint]int)
	total := make(map[uint]int)
	for _, oc := range outcomes {
		if oc.TopicID == nil || !oc.AutoGradable {
			continue
		}
		total[*oc.TopicID] += oc.Points
		awarded[*oc.TopicID] += oc.Awarded
	}
	ratios := make(map[uint]float64, len(total))
	for tid, max := range total {
		if max == 0 {
			continue
		}
		ratios[tid] = 100 * float64(awarded[tid]) / float64(max)
	}
	return ratios
}

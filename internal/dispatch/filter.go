package dispatch

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// CriterionKind enumerates the supported target filters.
type CriterionKind string

const (
	KindAll        CriterionKind = "all"
	KindQualified  CriterionKind = "qualified"
	KindScoreAbove CriterionKind = "score_above"
	KindEnterprise CriterionKind = "enterprise"
	KindTech       CriterionKind = "tech"
	KindCustom     CriterionKind = "custom"
)

// Criterion selects which scored rows become send targets.
type Criterion struct {
	Kind      CriterionKind `json:"kind"`
	Threshold int           `json:"threshold,omitempty"`
	Min       int           `json:"min,omitempty"`
	Max       int           `json:"max,omitempty"`
	Keyword   string        `json:"keyword,omitempty"`
}

// ParseCriterion resolves a CLI filter name. threshold applies to score_above.
func ParseCriterion(name string, threshold int) (Criterion, error) {
	switch CriterionKind(strings.ToLower(strings.TrimSpace(name))) {
	case KindAll, "":
		return Criterion{Kind: KindAll}, nil
	case KindQualified:
		return Criterion{Kind: KindQualified}, nil
	case KindScoreAbove, "scoreabove", "score":
		return Criterion{Kind: KindScoreAbove, Threshold: threshold}, nil
	case KindEnterprise:
		return Criterion{Kind: KindEnterprise}, nil
	case KindTech:
		return Criterion{Kind: KindTech}, nil
	default:
		return Criterion{}, eris.Errorf("dispatch: unknown filter %q", name)
	}
}

func (c Criterion) String() string {
	switch c.Kind {
	case KindScoreAbove:
		return fmt.Sprintf("score_above(%d)", c.Threshold)
	case KindCustom:
		return fmt.Sprintf("custom(%d-%d, %q)", c.Min, c.Max, c.Keyword)
	default:
		return string(c.Kind)
	}
}

var (
	sizeKeywords   = []string{"large", "enterprise"}
	sectorKeywords = []string{"tech", "software", "saas"}
)

// Filter selects sendable targets matching the criterion. It is a pure
// function of its inputs. Rows without an email address or a generated
// message are never sendable, whatever the criterion says.
func Filter(targets []model.DispatchTarget, c Criterion) []model.DispatchTarget {
	out := make([]model.DispatchTarget, 0, len(targets))
	for _, t := range targets {
		if strings.TrimSpace(t.Email) == "" || strings.TrimSpace(t.Message) == "" {
			continue
		}
		if matches(t, c) {
			out = append(out, t)
		}
	}
	return out
}

func matches(t model.DispatchTarget, c Criterion) bool {
	switch c.Kind {
	case KindQualified:
		return t.Qualifies
	case KindScoreAbove:
		return t.Score >= c.Threshold
	case KindEnterprise:
		return containsAny(t.Summary, sizeKeywords)
	case KindTech:
		return containsAny(t.Summary, sectorKeywords) || containsAny(t.Industry, sectorKeywords)
	case KindCustom:
		max := c.Max
		if max <= 0 {
			max = 100
		}
		if t.Score < c.Min || t.Score > max {
			return false
		}
		if c.Keyword != "" && !containsAny(t.Summary, []string{c.Keyword}) {
			return false
		}
		return true
	default:
		return true
	}
}

func containsAny(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

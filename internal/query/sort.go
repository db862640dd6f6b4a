package query

import (
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
)

// Virtual sort keys resolved from computed values rather than attributes.
const (
	KeyDistance = "distance"
	KeyScore    = "score"
)

// SortCriterion orders hits by one key.
type SortCriterion struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

func Asc(field string) SortCriterion  { return SortCriterion{Field: field} }
func Desc(field string) SortCriterion { return SortCriterion{Field: field, Desc: true} }

// ParseSort reads "field", "field:asc" or "field:desc".
func ParseSort(s string) (SortCriterion, error) {
	field, dir, _ := strings.Cut(s, ":")
	if field == "" {
		return SortCriterion{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "sort field is required")
	}
	switch strings.ToLower(dir) {
	case "", "asc":
		return Asc(field), nil
	case "desc":
		return Desc(field), nil
	default:
		return SortCriterion{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "sort direction %q must be asc or desc", dir)
	}
}

// sortHits performs a stable multi-key sort in place.
func sortHits[R model.Record](hits []Hit[R], criteria []SortCriterion) {
	if len(criteria) == 0 {
		return
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return compareHits(hits[i], hits[j], criteria) < 0
	})
}

func compareHits[R model.Record](a, b Hit[R], criteria []SortCriterion) int {
	for _, c := range criteria {
		var r int
		switch c.Field {
		case KeyDistance:
			r = compareFloat(distanceKey(a), distanceKey(b))
		case KeyScore:
			if !a.HasScore || !b.HasScore {
				continue
			}
			r = compareFloat(a.Score, b.Score)
		default:
			av, _ := a.Record.Field(c.Field)
			bv, _ := b.Record.Field(c.Field)
			ra, rb := valueRank(av), valueRank(bv)
			if ra != rb {
				// Missing and unorderable values trail in either direction.
				if ra < rb {
					return -1
				}
				return 1
			}
			if ra == rankOther {
				continue
			}
			r, _ = filter.Compare(av, bv)
		}
		if r == 0 {
			continue
		}
		if c.Desc {
			return -r
		}
		return r
	}
	return 0
}

func distanceKey[R model.Record](h Hit[R]) float64 {
	if !h.HasDistance {
		return math.Inf(1)
	}
	return h.Distance
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

const (
	rankNumber = iota
	rankString
	rankOther
)

func valueRank(v any) int {
	if _, ok := v.(string); ok {
		return rankString
	}
	if c, ok := filter.Compare(v, v); ok && c == 0 {
		return rankNumber
	}
	return rankOther
}

// sortedByDistance reports whether criteria is exactly an ascending distance
// sort, which the static backing already produces.
func sortedByDistance(criteria []SortCriterion) bool {
	return len(criteria) == 1 && criteria[0].Field == KeyDistance && !criteria[0].Desc
}

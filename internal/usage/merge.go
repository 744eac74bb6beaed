package usage

import (
	"sort"

	"github.com/samber/lo"
)

// Merge combines aggregate lists produced by overlapping readers into one
// canonical list. Rows are grouped by (date, source, model). Within a group a
// row with a resolved provider replaces one whose provider is unknown; rows are
// never summed across providers because overlapping readers may report the
// same usage twice. Rows whose total_io is zero are dropped.
func Merge(lists ...[]Aggregate) []Aggregate {
	picked := make(map[string]Aggregate)
	var order []string

	for _, list := range lists {
		for _, row := range list {
			row = row.Normalized()
			if row.Provider == "" {
				row.Provider = ProviderUnknown
			}
			key := row.groupKey()
			prev, ok := picked[key]
			if !ok {
				picked[key] = row
				order = append(order, key)
				continue
			}
			if prev.Provider == ProviderUnknown && row.Provider != ProviderUnknown {
				picked[key] = row
			}
		}
	}

	out := lo.FilterMap(order, func(key string, _ int) (Aggregate, bool) {
		row := picked[key]
		return row, row.TotalIO > 0
	})
	SortAggregates(out)
	return out
}

// SumByKey adds together rows that share date, source, provider and model.
// It is meant for raw records from a single reader, never across readers.
func SumByKey(rows []Aggregate) []Aggregate {
	sums := make(map[string]Aggregate)
	for _, row := range rows {
		key := row.Key()
		prev, ok := sums[key]
		if !ok {
			sums[key] = row.Normalized()
			continue
		}
		sums[key] = NewAggregate(row.Date, row.Source, row.Provider, row.Model, prev.Totals().Add(row.Totals()))
	}
	out := lo.Filter(lo.Values(sums), func(row Aggregate, _ int) bool {
		return row.TotalIO > 0
	})
	SortAggregates(out)
	return out
}

func SortAggregates(rows []Aggregate) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Model < b.Model
	})
}

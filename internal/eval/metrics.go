package eval

import "math"

// Metric names accepted in config.
const (
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricHitRate   = "hit-rate"
	MetricMRR       = "mrr"
	MetricNDCG      = "ndcg"
)

// ComputeMetrics scores a ranked id list against ground-truth labels at
// cutoff k. Ranks are 0-based; ids without a relevance label score zero.
// Hit-rate is the any-relevant indicator over the top k.
func ComputeMetrics(retrieved, relevant []string, k int, selected []string) map[string]float64 {
	if k <= 0 || k > len(retrieved) {
		k = len(retrieved)
	}
	topK := retrieved[:k]
	relevantSet := make(map[string]struct{}, len(relevant))
	for _, id := range relevant {
		relevantSet[id] = struct{}{}
	}

	out := make(map[string]float64, len(selected))
	for _, name := range selected {
		switch name {
		case MetricPrecision:
			out[name] = precisionAtK(topK, relevantSet)
		case MetricRecall:
			out[name] = recallAtK(topK, relevantSet, len(relevant))
		case MetricHitRate:
			out[name] = hitRateAtK(topK, relevantSet)
		case MetricMRR:
			out[name] = mrr(topK, relevantSet)
		case MetricNDCG:
			out[name] = ndcgAtK(topK, relevantSet)
		}
	}
	return out
}

func hits(topK []string, relevant map[string]struct{}) int {
	n := 0
	for _, id := range topK {
		if _, ok := relevant[id]; ok {
			n++
		}
	}
	return n
}

func precisionAtK(topK []string, relevant map[string]struct{}) float64 {
	if len(topK) == 0 {
		return 0
	}
	return float64(hits(topK, relevant)) / float64(len(topK))
}

func recallAtK(topK []string, relevant map[string]struct{}, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}
	return float64(hits(topK, relevant)) / float64(totalRelevant)
}

func hitRateAtK(topK []string, relevant map[string]struct{}) float64 {
	for _, id := range topK {
		if _, ok := relevant[id]; ok {
			return 1
		}
	}
	return 0
}

// mrr is the reciprocal of 1 + the 0-based rank of the first relevant id.
func mrr(topK []string, relevant map[string]struct{}) float64 {
	for rank, id := range topK {
		if _, ok := relevant[id]; ok {
			return 1.0 / float64(rank+1)
		}
	}
	return 0
}

// ndcgAtK uses binary gains: DCG with gain 1 at each relevant rank,
// normalized by the ideal ordering.
func ndcgAtK(topK []string, relevant map[string]struct{}) float64 {
	var dcg float64
	for rank, id := range topK {
		if _, ok := relevant[id]; ok {
			dcg += 1.0 / math.Log2(float64(rank)+2)
		}
	}
	ideal := len(relevant)
	if ideal > len(topK) {
		ideal = len(topK)
	}
	if ideal == 0 {
		return 0
	}
	var idcg float64
	for rank := 0; rank < ideal; rank++ {
		idcg += 1.0 / math.Log2(float64(rank)+2)
	}
	return dcg / idcg
}

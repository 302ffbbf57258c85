package knowledge

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// similarity scores a against b; both must have the same length.
func similarity(d Distance, a, b []float64) float32 {
	dot := floats.Dot(a, b)
	if d == DistanceDot {
		return float32(dot)
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (na * nb))
}

func supportedDistance(d Distance) bool {
	return d == DistanceCosine || d == DistanceDot
}

// rank scores every point against query and keeps the best topK.
func rank(d Distance, query []float32, points []Point, topK int) []ScoredPoint {
	q := toFloat64(query)
	hits := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != len(query) {
			continue
		}
		hits = append(hits, ScoredPoint{
			ID:      p.ID,
			Score:   similarity(d, q, toFloat64(p.Vector)),
			Payload: p.Payload,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

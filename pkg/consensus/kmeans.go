package consensus

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/polyagents/polyagents/pkg/fault"
)

const (
	defaultKMeansSeed    = 42
	defaultKMeansMaxIter = 100
)

// Clustering is the result of one clustering run: a label per input
// vector and a centroid per label.
type Clustering struct {
	Labels    []int
	Centroids [][]float64
}

// KMeans is a deterministic Lloyd's-algorithm clusterer. The fixed seed
// drives the k-means++ style seeding, so identical inputs always produce
// identical clusterings.
type KMeans struct {
	seed    int64
	maxIter int
}

// NewKMeans returns a clusterer with seed 42 and an iteration cap of 100.
func NewKMeans() *KMeans {
	return &KMeans{seed: defaultKMeansSeed, maxIter: defaultKMeansMaxIter}
}

// Cluster partitions vectors into k groups.
func (km *KMeans) Cluster(vectors [][]float64, k int) (*Clustering, error) {
	const op = "consensus.KMeans.Cluster"

	if k < 1 {
		return nil, &fault.Error{
			Kind:    fault.KindInvalidInput,
			Op:      op,
			Message: fmt.Sprintf("cluster count must be positive, got %d", k),
		}
	}
	if len(vectors) < k {
		return nil, &fault.Error{
			Kind:    fault.KindInvalidInput,
			Op:      op,
			Message: fmt.Sprintf("%d vectors cannot form %d clusters", len(vectors), k),
		}
	}
	dim := len(vectors[0])
	for _, v := range vectors[1:] {
		if len(v) != dim {
			return nil, &fault.Error{
				Kind:    fault.KindInvalidInput,
				Op:      op,
				Message: "vectors have mixed dimensions",
			}
		}
	}

	rng := rand.New(rand.NewSource(km.seed))
	centroids := seedCentroids(rng, vectors, k)

	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = -1
	}
	for iter := 0; iter < km.maxIter; iter++ {
		if !assign(vectors, centroids, labels) {
			break
		}
		updateCentroids(vectors, labels, centroids)
	}

	return &Clustering{Labels: labels, Centroids: centroids}, nil
}

// seedCentroids picks initial centroids k-means++ style: the first
// uniformly at random, each next one with probability proportional to its
// squared distance from the nearest centroid chosen so far.
func seedCentroids(rng *rand.Rand, vectors [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, slices.Clone(vectors[rng.Intn(len(vectors))]))

	dists := make([]float64, len(vectors))
	for len(centroids) < k {
		total := 0.0
		for i, v := range vectors {
			d := math.Inf(1)
			for _, c := range centroids {
				if s := sqDist(v, c); s < d {
					d = s
				}
			}
			dists[i] = d
			total += d
		}

		// All remaining points coincide with a centroid; any pick works.
		next := len(vectors) - 1
		if total == 0 {
			next = rng.Intn(len(vectors))
		} else {
			target := rng.Float64() * total
			for i, d := range dists {
				target -= d
				if target <= 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, slices.Clone(vectors[next]))
	}
	return centroids
}

// assign relabels every vector to its nearest centroid and reports
// whether any label changed. Ties keep the lowest centroid index.
func assign(vectors, centroids [][]float64, labels []int) bool {
	changed := false
	for i, v := range vectors {
		best, bestDist := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(v, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// updateCentroids moves each centroid to the mean of its members. An
// emptied cluster keeps its previous centroid.
func updateCentroids(vectors [][]float64, labels []int, centroids [][]float64) {
	dim := len(vectors[0])
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, v := range vectors {
		l := labels[i]
		counts[l]++
		for d, x := range v {
			sums[l][d] += x
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for d := range sums[c] {
			sums[c][d] /= float64(counts[c])
		}
		centroids[c] = sums[c]
	}
}

// sqDist is the squared Euclidean distance. Callers only compare
// distances, so the square root is skipped.
func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

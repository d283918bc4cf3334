// Package cluster implements the weakly-connected-components clusterer of
// spec §4E: it treats every edge at or above the configured similarity
// floor as an admissible link and groups records into clusters by
// connectivity.
//
// The traversal is grounded directly on the teacher's
// Database.GetGraph breadth-first walk: an explicit work queue, a
// visited-with-distance map, and a per-traversal hop bound — generalized
// here from "start at one root" to "visit every vertex the edge set
// touches" so the whole graph is partitioned into components in one pass.
package cluster

import (
	"sort"
	"time"

	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var log = logging.GetLogger("cluster")

// Stats summarizes one clustering pass (spec §4E statistics contract).
type Stats struct {
	ClusterCount      int
	RecordsClustered  int
	SingletonsDropped int
	OversizeDropped   int
	ProcessingTime    time.Duration
}

// WCC partitions recordCollection's records into weakly connected
// components using edgeCollection's edges, filters by cluster size, and
// optionally persists the result (spec §4E).
func WCC(s *store.Store, recordCollection, edgeCollection string, cfg config.ClusteringConfig) ([]*store.Cluster, *Stats, error) {
	start := time.Now()

	adjacency, err := buildAdjacency(s, edgeCollection, cfg.MinSimilarity)
	if err != nil {
		return nil, nil, err
	}

	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = 10000
	}

	vertices := make([]string, 0, len(adjacency))
	for v := range adjacency {
		vertices = append(vertices, v)
	}
	sort.Strings(vertices)

	visited := make(map[string]bool, len(vertices))
	var clusters []*store.Cluster
	stats := &Stats{}

	for _, root := range vertices {
		if visited[root] {
			continue
		}
		component := bfsComponent(adjacency, root, maxHops, visited)
		sort.Strings(component)

		size := len(component)
		if cfg.MinClusterSize > 0 && size < cfg.MinClusterSize {
			stats.SingletonsDropped++
			continue
		}
		if cfg.MaxClusterSize > 0 && size > cfg.MaxClusterSize {
			stats.OversizeDropped++
			continue
		}

		clusters = append(clusters, &store.Cluster{
			Collection: recordCollection,
			ID:         store.ClusterID(component),
			Members:    component,
		})
		stats.RecordsClustered += size
	}
	stats.ClusterCount = len(clusters)
	stats.ProcessingTime = time.Since(start)

	if cfg.StoreResults {
		truncateFirst := cfg.TruncateExisting == nil || *cfg.TruncateExisting
		if truncateFirst {
			if err := s.TruncateClusters(recordCollection); err != nil {
				return nil, nil, err
			}
		}
		if len(clusters) > 0 {
			if err := s.BulkInsertClusters(recordCollection, clusters); err != nil {
				return nil, nil, err
			}
		}
	}

	log.Stage("clustering", stats.ProcessingTime.Milliseconds(), stats.ClusterCount,
		"records_clustered", stats.RecordsClustered, "oversize_dropped", stats.OversizeDropped)

	return clusters, stats, nil
}

func buildAdjacency(s *store.Store, edgeCollection string, minSimilarity float64) (map[string]map[string]float64, error) {
	adjacency := make(map[string]map[string]float64)
	edges, errc := s.ScanEdges(edgeCollection)
	for e := range edges {
		if e.Weight < minSimilarity {
			continue
		}
		addEdge(adjacency, e.FromID, e.ToID, e.Weight)
		addEdge(adjacency, e.ToID, e.FromID, e.Weight)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return adjacency, nil
}

func addEdge(adjacency map[string]map[string]float64, from, to string, weight float64) {
	if adjacency[from] == nil {
		adjacency[from] = make(map[string]float64)
	}
	adjacency[from][to] = weight
}

// bfsComponent walks outward from root up to maxHops, marking every
// visited vertex in the shared visited set and returning only the vertices
// within maxHops of root (spec §5 resource limits, the same role the hop
// limit plays in the teacher's GetGraph). Vertices further out stay
// unvisited and become roots of later components in WCC's loop.
func bfsComponent(adjacency map[string]map[string]float64, root string, maxHops int, visited map[string]bool) []string {
	distance := map[string]int{root: 0}
	queue := []string{root}
	visited[root] = true
	component := []string{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if distance[current] >= maxHops {
			continue
		}
		neighbors := make([]string, 0, len(adjacency[current]))
		for n := range adjacency[current] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			visited[n] = true
			distance[n] = distance[current] + 1
			component = append(component, n)
			queue = append(queue, n)
		}
	}
	return component
}

package webui

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
)

// clusterSetDTO is the wire shape rendered to the SSE stream: vectors are
// omitted (the presentation layer only needs paths and flags), keeping
// payloads small.
type clusterSetDTO struct {
	Clusters []clusterDTO `json:"clusters"`
}

type clusterDTO struct {
	ID               int      `json:"id"`
	MemberCount      int      `json:"memberCount"`
	Representatives  []repDTO `json:"representatives"`
	IsFrozen         bool     `json:"isFrozen"`
	DriftCount       int      `json:"driftCount"`
	MovedFrom        *int     `json:"movedFrom,omitempty"`
}

type repDTO struct {
	Path          string `json:"path"`
	IsReplacement bool   `json:"isReplacement"`
}

func toClusterSetDTO(cs cluster.ClusterSet) clusterSetDTO {
	out := clusterSetDTO{Clusters: make([]clusterDTO, len(cs.Clusters))}
	for i, c := range cs.Clusters {
		reps := make([]repDTO, len(c.Representatives))
		for j, r := range c.Representatives {
			reps[j] = repDTO{Path: r.Path, IsReplacement: r.IsReplacement}
		}
		out.Clusters[i] = clusterDTO{
			ID:              c.ID,
			MemberCount:     len(c.Members),
			Representatives: reps,
			IsFrozen:        c.IsFrozen,
			DriftCount:      c.DriftCount,
			MovedFrom:       c.MovedFrom,
		}
	}
	return out
}

func clusterIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	return strconv.Atoi(raw)
}

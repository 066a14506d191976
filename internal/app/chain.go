package app

import (
	"context"
	"net/http"
	"strings"
)

// A chain longer than this means the backlinks are malformed; nothing
// legitimate resubmits a hundred times.
const maxChainHops = 100

// GetChain reconstructs the full review history of one logical change by
// walking previousRequestId backlinks, newest first. Backlinks only ever
// point at strictly earlier requests, but nothing in the schema enforces
// that, so the walk guards against cycles anyway.
func (s *Service) GetChain(ctx context.Context, requestID string) ([]map[string]any, error) {
	chain := make([]map[string]any, 0, 2)
	visited := make(map[string]struct{})

	current := requestID
	for hops := 0; current != ""; hops++ {
		if hops >= maxChainHops {
			return nil, domainError(http.StatusInternalServerError, "CHAIN_TOO_LONG", "Request chain exceeds maximum depth", nil)
		}
		if _, seen := visited[current]; seen {
			return nil, domainError(http.StatusInternalServerError, "CHAIN_CYCLE", "Request chain contains a cycle", nil)
		}
		visited[current] = struct{}{}

		request, err := s.store.GetChangeRequest(ctx, current)
		if err != nil {
			// Only the head has to exist; a dangling backlink further down
			// truncates the chain instead of failing it.
			if len(chain) > 0 {
				break
			}
			return nil, err
		}
		chain = append(chain, requestJSON(request))

		current = ""
		if request.PreviousRequestID != nil {
			current = strings.TrimSpace(*request.PreviousRequestID)
		}
	}
	return chain, nil
}

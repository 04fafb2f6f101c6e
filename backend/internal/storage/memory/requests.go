package memory

import (
	"context"
	"sort"

	"school_portal/backend/internal/shared"
)

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[name]++
	return s.counters[name], nil
}

func (s *Store) InsertRequest(_ context.Context, req *shared.DocumentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.requests {
		if r.RequestID == req.RequestID || r.ID == req.ID {
			return shared.ErrConflict
		}
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// lookup accepts either the internal id or the human-readable request id.
func (s *Store) lookup(id string) *shared.DocumentRequest {
	if r, ok := s.requests[id]; ok {
		return r
	}
	for _, r := range s.requests {
		if r.RequestID == id {
			return r
		}
	}
	return nil
}

func (s *Store) FindRequest(_ context.Context, id string) (*shared.DocumentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(id)
	if r == nil {
		return nil, shared.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *Store) UpdateRequest(_ context.Context, id, expectedStatus string, upd shared.RequestUpdate) (*shared.DocumentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.lookup(id)
	if r == nil || r.Status != expectedStatus {
		return nil, shared.ErrConflict
	}

	r.Status = upd.Status
	r.TentativeDate = copyTime(upd.TentativeDate)
	if upd.PaymentStatus != "" {
		r.PaymentStatus = upd.PaymentStatus
	}
	if upd.RejectionReason != "" {
		r.RejectionReason = upd.RejectionReason
	}
	if r.ProcessedBy == nil && upd.ClaimBy != "" {
		by, byID := upd.ClaimBy, upd.ClaimByID
		r.ProcessedBy, r.ProcessedByID = &by, &byID
	}
	r.UpdatedAt = upd.UpdatedAt
	return cloneRequest(r), nil
}

func (s *Store) ListRequests(_ context.Context, f shared.RequestFilter) ([]shared.DocumentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []shared.DocumentRequest
	for _, r := range s.requests {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *cloneRequest(r))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedDate.Equal(out[j].SubmittedDate) {
			return out[i].SubmittedDate.After(out[j].SubmittedDate)
		}
		return out[i].RequestID > out[j].RequestID
	})
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

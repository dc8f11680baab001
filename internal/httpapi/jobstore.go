package httpapi

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shovelend/pond/internal/domain"
)

// jobStore remembers jobs this process has submitted over HTTP just long
// enough for a later stream request to Yield on them. submission.API itself
// only tracks pending replies by request id internally; the HTTP layer
// needs the *domain.Job value (and who owns it) to call Yield at all.
type jobStore struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]storedJob
}

type storedJob struct {
	job   *domain.Job
	owner domain.Owner
}

func newJobStore() *jobStore {
	return &jobStore{byID: make(map[uuid.UUID]storedJob)}
}

func (s *jobStore) put(job *domain.Job, owner domain.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[job.ID] = storedJob{job: job, owner: owner}
}

func (s *jobStore) get(id uuid.UUID) (storedJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.byID[id]
	return sj, ok
}

func (s *jobStore) forget(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

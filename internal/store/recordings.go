package store

import (
	"time"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
)

type Recordings struct {
	*Keyed[domain.Recording]
}

func NewRecordings() *Recordings {
	return &Recordings{NewKeyed("recording",
		func(r domain.Recording) string { return r.ID },
		func(r domain.Recording) domain.Recording { return r },
	)}
}

func (r *Recordings) ByFilePath(path string) (domain.Recording, bool) {
	return r.Find(func(rec domain.Recording) bool { return rec.FilePath == path })
}

func (r *Recordings) BySession(sessionID string) []domain.Recording {
	return r.Filter(func(rec domain.Recording) bool { return rec.SessionID == sessionID })
}

func (r *Recordings) Active() []domain.Recording {
	return r.Filter(func(rec domain.Recording) bool { return rec.Active })
}

func (r *Recordings) ByStatus(status domain.RecordingStatus) []domain.Recording {
	return r.Filter(func(rec domain.Recording) bool { return rec.Status == status })
}

// StartedBetween returns recordings with from <= StartedAt < to.
func (r *Recordings) StartedBetween(from, to time.Time) []domain.Recording {
	return r.Filter(func(rec domain.Recording) bool {
		return !rec.StartedAt.Before(from) && rec.StartedAt.Before(to)
	})
}

func (r *Recordings) ByQuality(q domain.Quality) []domain.Recording {
	return r.Filter(func(rec domain.Recording) bool { return rec.Quality == q })
}

func (r *Recordings) ActiveCount() int {
	return r.Count(func(rec domain.Recording) bool { return rec.Active })
}

func (r *Recordings) TotalSize() int64 {
	return lo.SumBy(r.All(), func(rec domain.Recording) int64 { return rec.FileSize })
}

func (r *Recordings) Completed() []domain.Recording {
	return r.ByStatus(domain.RecordingCompleted)
}

func (r *Recordings) WithErrors() []domain.Recording {
	return r.Filter(func(rec domain.Recording) bool { return rec.LastError != "" })
}

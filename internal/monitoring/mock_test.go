package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/prospect-outreach/internal/store"
)

type mockStore struct {
	snap        store.HealthSnapshot
	err         error
	since       time.Time
	staleBefore time.Time
	calls       int
}

func (m *mockStore) Health(_ context.Context, since, staleBefore time.Time) (store.HealthSnapshot, error) {
	m.calls++
	m.since, m.staleBefore = since, staleBefore
	return m.snap, m.err
}

// Package mocks provides testify-based mock implementations of the
// internal/repository interfaces for domain service unit tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// ProjectRepository mocks repository.ProjectRepository.
type ProjectRepository struct{ mock.Mock }

func (m *ProjectRepository) Create(ctx context.Context, tenantID string, p *refs.Project) error {
	args := m.Called(ctx, tenantID, p)
	return args.Error(0)
}

func (m *ProjectRepository) Get(ctx context.Context, tenantID, projectID string) (*refs.Project, error) {
	args := m.Called(ctx, tenantID, projectID)
	p, _ := args.Get(0).(*refs.Project)
	return p, args.Error(1)
}

func (m *ProjectRepository) GetDefault(ctx context.Context, tenantID string) (*refs.Project, error) {
	args := m.Called(ctx, tenantID)
	p, _ := args.Get(0).(*refs.Project)
	return p, args.Error(1)
}

func (m *ProjectRepository) List(ctx context.Context, tenantID string) ([]refs.Project, error) {
	args := m.Called(ctx, tenantID)
	ps, _ := args.Get(0).([]refs.Project)
	return ps, args.Error(1)
}

func (m *ProjectRepository) AddMember(ctx context.Context, tenantID, projectID, userID string) error {
	args := m.Called(ctx, tenantID, projectID, userID)
	return args.Error(0)
}

func (m *ProjectRepository) IsMember(ctx context.Context, tenantID, projectID, userID string) (bool, error) {
	args := m.Called(ctx, tenantID, projectID, userID)
	return args.Bool(0), args.Error(1)
}

// RefRepository mocks repository.RefRepository.
type RefRepository struct{ mock.Mock }

func (m *RefRepository) Create(ctx context.Context, tenantID string, r *refs.Ref) error {
	args := m.Called(ctx, tenantID, r)
	return args.Error(0)
}

func (m *RefRepository) Get(ctx context.Context, tenantID, refID string) (*refs.Ref, error) {
	args := m.Called(ctx, tenantID, refID)
	r, _ := args.Get(0).(*refs.Ref)
	return r, args.Error(1)
}

func (m *RefRepository) GetByName(ctx context.Context, tenantID, projectID, name string) (*refs.Ref, error) {
	args := m.Called(ctx, tenantID, projectID, name)
	r, _ := args.Get(0).(*refs.Ref)
	return r, args.Error(1)
}

func (m *RefRepository) List(ctx context.Context, tenantID, projectID string, opts repository.ListRefsOptions) ([]refs.RefSummary, error) {
	args := m.Called(ctx, tenantID, projectID, opts)
	rs, _ := args.Get(0).([]refs.RefSummary)
	return rs, args.Error(1)
}

func (m *RefRepository) Rename(ctx context.Context, tenantID, refID, newName string) error {
	args := m.Called(ctx, tenantID, refID, newName)
	return args.Error(0)
}

func (m *RefRepository) SetPinned(ctx context.Context, tenantID, refID string, pinned bool) error {
	args := m.Called(ctx, tenantID, refID, pinned)
	return args.Error(0)
}

func (m *RefRepository) SetProviderBinding(ctx context.Context, tenantID, refID, provider, model string, previousResponseID *string) error {
	args := m.Called(ctx, tenantID, refID, provider, model, previousResponseID)
	return args.Error(0)
}

func (m *RefRepository) Delete(ctx context.Context, tenantID, refID string) error {
	args := m.Called(ctx, tenantID, refID)
	return args.Error(0)
}

// LedgerRepository mocks repository.LedgerRepository.
type LedgerRepository struct{ mock.Mock }

func (m *LedgerRepository) AppendNode(ctx context.Context, tenantID string, in repository.AppendNodeInput) (*repository.AppendNodeResult, error) {
	args := m.Called(ctx, tenantID, in)
	r, _ := args.Get(0).(*repository.AppendNodeResult)
	return r, args.Error(1)
}

func (m *LedgerRepository) UpdateArtefact(ctx context.Context, tenantID string, in repository.UpdateArtefactInput) (*repository.UpdateArtefactResult, error) {
	args := m.Called(ctx, tenantID, in)
	r, _ := args.Get(0).(*repository.UpdateArtefactResult)
	return r, args.Error(1)
}

func (m *LedgerRepository) MergeOurs(ctx context.Context, tenantID string, in repository.MergeOursInput) (*repository.MergeOursResult, error) {
	args := m.Called(ctx, tenantID, in)
	r, _ := args.Get(0).(*repository.MergeOursResult)
	return r, args.Error(1)
}

func (m *LedgerRepository) CreateRefFromRef(ctx context.Context, tenantID string, in repository.CreateRefFromRefInput) (*refs.Ref, error) {
	args := m.Called(ctx, tenantID, in)
	r, _ := args.Get(0).(*refs.Ref)
	return r, args.Error(1)
}

func (m *LedgerRepository) CreateRefFromNode(ctx context.Context, tenantID string, in repository.CreateRefFromNodeInput) (*repository.CreateRefFromNodeResult, error) {
	args := m.Called(ctx, tenantID, in)
	r, _ := args.Get(0).(*repository.CreateRefFromNodeResult)
	return r, args.Error(1)
}

func (m *LedgerRepository) SourceNodesSinceDivergence(ctx context.Context, tenantID, sourceRefID, targetRefID string) ([]string, error) {
	args := m.Called(ctx, tenantID, sourceRefID, targetRefID)
	ss, _ := args.Get(0).([]string)
	return ss, args.Error(1)
}

func (m *LedgerRepository) GetNode(ctx context.Context, tenantID, nodeID string) (*refs.Node, error) {
	args := m.Called(ctx, tenantID, nodeID)
	n, _ := args.Get(0).(*refs.Node)
	return n, args.Error(1)
}

func (m *LedgerRepository) GetNodeByCommit(ctx context.Context, tenantID, commitID string) (*refs.Node, error) {
	args := m.Called(ctx, tenantID, commitID)
	n, _ := args.Get(0).(*refs.Node)
	return n, args.Error(1)
}

func (m *LedgerRepository) GetCommit(ctx context.Context, tenantID, commitID string) (*refs.Commit, error) {
	args := m.Called(ctx, tenantID, commitID)
	c, _ := args.Get(0).(*refs.Commit)
	return c, args.Error(1)
}

func (m *LedgerRepository) History(ctx context.Context, tenantID, refID string, opts repository.HistoryOptions) ([]refs.HistoryEntry, error) {
	args := m.Called(ctx, tenantID, refID, opts)
	h, _ := args.Get(0).([]refs.HistoryEntry)
	return h, args.Error(1)
}

func (m *LedgerRepository) NodeCount(ctx context.Context, tenantID, refID string) (int64, error) {
	args := m.Called(ctx, tenantID, refID)
	return args.Get(0).(int64), args.Error(1)
}

// ArtefactRepository mocks repository.ArtefactRepository.
type ArtefactRepository struct{ mock.Mock }

func (m *ArtefactRepository) InsertArtefact(ctx context.Context, tenantID string, a *refs.Artefact) error {
	args := m.Called(ctx, tenantID, a)
	return args.Error(0)
}

func (m *ArtefactRepository) GetArtefactByCommit(ctx context.Context, tenantID, commitID string) (*refs.Artefact, error) {
	args := m.Called(ctx, tenantID, commitID)
	a, _ := args.Get(0).(*refs.Artefact)
	return a, args.Error(1)
}

func (m *ArtefactRepository) LatestArtefactForRef(ctx context.Context, tenantID, refID string) (*refs.Artefact, error) {
	args := m.Called(ctx, tenantID, refID)
	a, _ := args.Get(0).(*refs.Artefact)
	return a, args.Error(1)
}

func (m *ArtefactRepository) UpsertDraft(ctx context.Context, tenantID string, d *refs.ArtefactDraft) error {
	args := m.Called(ctx, tenantID, d)
	return args.Error(0)
}

func (m *ArtefactRepository) GetDraft(ctx context.Context, tenantID, projectID, refID, userID string) (*refs.ArtefactDraft, error) {
	args := m.Called(ctx, tenantID, projectID, refID, userID)
	d, _ := args.Get(0).(*refs.ArtefactDraft)
	return d, args.Error(1)
}

func (m *ArtefactRepository) DeleteDraft(ctx context.Context, tenantID, projectID, refID, userID string) error {
	args := m.Called(ctx, tenantID, projectID, refID, userID)
	return args.Error(0)
}

// LeaseRepository mocks repository.LeaseRepository.
type LeaseRepository struct{ mock.Mock }

func (m *LeaseRepository) Acquire(ctx context.Context, tenantID string, l *repository.Lease) error {
	args := m.Called(ctx, tenantID, l)
	return args.Error(0)
}

func (m *LeaseRepository) Refresh(ctx context.Context, tenantID, projectID, refID, userID, sessionID string, newExpiry time.Time) error {
	args := m.Called(ctx, tenantID, projectID, refID, userID, sessionID, newExpiry)
	return args.Error(0)
}

func (m *LeaseRepository) Release(ctx context.Context, tenantID, projectID, refID, sessionID string, force bool) error {
	args := m.Called(ctx, tenantID, projectID, refID, sessionID, force)
	return args.Error(0)
}

func (m *LeaseRepository) Get(ctx context.Context, tenantID, projectID, refID string) (*repository.Lease, error) {
	args := m.Called(ctx, tenantID, projectID, refID)
	l, _ := args.Get(0).(*repository.Lease)
	return l, args.Error(1)
}

func (m *LeaseRepository) List(ctx context.Context, tenantID, projectID string) ([]repository.Lease, error) {
	args := m.Called(ctx, tenantID, projectID)
	ls, _ := args.Get(0).([]repository.Lease)
	return ls, args.Error(1)
}

// ActivityRepository mocks repository.ActivityRepository.
type ActivityRepository struct{ mock.Mock }

func (m *ActivityRepository) Log(ctx context.Context, tenantID string, e *repository.ActivityEntry) error {
	args := m.Called(ctx, tenantID, e)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, tenantID, projectID string, opts repository.ListActivityOptions) ([]repository.ActivityEntry, error) {
	args := m.Called(ctx, tenantID, projectID, opts)
	es, _ := args.Get(0).([]repository.ActivityEntry)
	return es, args.Error(1)
}

// StarRepository mocks repository.StarRepository.
type StarRepository struct{ mock.Mock }

func (m *StarRepository) Toggle(ctx context.Context, tenantID, userID, nodeID string) (bool, error) {
	args := m.Called(ctx, tenantID, userID, nodeID)
	return args.Bool(0), args.Error(1)
}

func (m *StarRepository) ListStarred(ctx context.Context, tenantID, userID, projectID string) ([]string, error) {
	args := m.Called(ctx, tenantID, userID, projectID)
	ss, _ := args.Get(0).([]string)
	return ss, args.Error(1)
}

// UserPrefsRepository mocks repository.UserPrefsRepository.
type UserPrefsRepository struct{ mock.Mock }

func (m *UserPrefsRepository) SetCurrentRef(ctx context.Context, tenantID, userID, projectID, refID string) error {
	args := m.Called(ctx, tenantID, userID, projectID, refID)
	return args.Error(0)
}

func (m *UserPrefsRepository) GetCurrentRef(ctx context.Context, tenantID, userID, projectID string) (string, error) {
	args := m.Called(ctx, tenantID, userID, projectID)
	return args.String(0), args.Error(1)
}

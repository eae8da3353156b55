package project

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"slidehub/internal/auth"
	"slidehub/internal/platform/logger"
	"slidehub/internal/platform/metrics"
)

type fakeProjectsAPI struct {
	mu          sync.Mutex
	docs        map[string][]byte
	nextID      string
	getErr      error
	createErr   error
	saveErr     error
	createCalls int
	saveCalls   []string
}

func newFakeProjectsAPI() *fakeProjectsAPI {
	return &fakeProjectsAPI{docs: map[string][]byte{}, nextID: "forked-1"}
}

func (f *fakeProjectsAPI) Get(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.New("no such project")
	}
	return doc, nil
}

func (f *fakeProjectsAPI) Create(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.nextID, nil
}

func (f *fakeProjectsAPI) Save(_ context.Context, id string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls = append(f.saveCalls, id)
	if f.saveErr != nil {
		return f.saveErr
	}
	f.docs[id] = payload
	return nil
}

type fakeAuthority struct {
	canWrite bool
	writeErr error
	roles    map[auth.Role]bool
	mode     auth.Mode
	suppress bool
}

func (f *fakeAuthority) HasWriteAccess(context.Context, string) (bool, error) {
	if f.writeErr != nil {
		return false, f.writeErr
	}
	return f.canWrite, nil
}

func (f *fakeAuthority) HasRole(role auth.Role) bool { return f.roles[role] }
func (f *fakeAuthority) Mode() auth.Mode             { return f.mode }
func (f *fakeAuthority) SuppressLoginPrompt() bool   { return f.suppress }

type SyncSuite struct {
	suite.Suite
	api       *fakeProjectsAPI
	authority *fakeAuthority
	store     *Store
	ctx       context.Context
}

func (s *SyncSuite) SetupTest() {
	s.api = newFakeProjectsAPI()
	s.authority = &fakeAuthority{mode: auth.ModeCredential}
	s.store = NewStore(s.api, s.authority, logger.Discard(), metrics.NewDiscard())
	s.store.SetEditing(true)
	s.ctx = context.Background()

	raw, err := Serialize(sampleProject())
	s.Require().NoError(err)
	s.api.docs["p-42"] = raw
	_, err = s.store.Load(s.ctx, "p-42")
	s.Require().NoError(err)
}

func TestSyncSuite(t *testing.T) {
	suite.Run(t, new(SyncSuite))
}

func (s *SyncSuite) TestEditingDisabledIsSilentNoop() {
	s.store.SetEditing(false)
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(SyncNoop, outcome)
	s.Empty(s.api.saveCalls)
	s.Zero(s.api.createCalls)
}

func (s *SyncSuite) TestWriteAccessUploadsOnce() {
	s.authority.canWrite = true
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(SyncUploaded, outcome)
	s.Equal([]string{"p-42"}, s.api.saveCalls)
	s.Zero(s.api.createCalls)

	uploaded, err := Parse(s.api.docs["p-42"])
	s.Require().NoError(err)
	s.Equal(SchemaVersion, uploaded.Version)
}

func (s *SyncSuite) TestNoAccessWithPersonalRoleNeedsFork() {
	s.authority.roles = map[auth.Role]bool{auth.RoleManagePersonal: true}
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(SyncNeedsFork, outcome)
	// the decision alone must not touch the server
	s.Empty(s.api.saveCalls)
	s.Zero(s.api.createCalls)
}

func (s *SyncSuite) TestForkAcceptedCreatesAndUploadsCopy() {
	s.authority.roles = map[auth.Role]bool{auth.RoleManagePersonal: true}
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(SyncNeedsFork, outcome)

	newID, err := s.store.Fork(s.ctx)
	s.Require().NoError(err)
	s.Equal("forked-1", newID)
	s.Equal(1, s.api.createCalls)
	s.Equal([]string{"forked-1"}, s.api.saveCalls)
	s.Equal("forked-1", s.store.Project().ID)

	forked, err := Parse(s.api.docs["forked-1"])
	s.Require().NoError(err)
	s.Equal("p-42", forked.ID) // payload serialized before the id switch
	s.Len(forked.Entries, 2)
}

func (s *SyncSuite) TestForkDeclinedLeavesEverythingLocal() {
	s.authority.roles = map[auth.Role]bool{auth.RoleManagePersonal: true}
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(SyncNeedsFork, outcome)

	// declining means simply not calling Fork; nothing may have uploaded
	s.Empty(s.api.saveCalls)
	s.Zero(s.api.createCalls)
	s.Equal("p-42", s.store.Project().ID)
}

func (s *SyncSuite) TestUnauthenticatedNeedsLogin() {
	s.authority.mode = auth.ModeUnauthenticated
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(SyncNeedsLogin, outcome)
	s.Empty(s.api.saveCalls)
}

func (s *SyncSuite) TestSuppressedLoginPromptBecomesNoop() {
	s.authority.mode = auth.ModeGuest
	s.authority.suppress = true
	outcome, err := s.store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(SyncNoop, outcome)
	s.Empty(s.api.saveCalls)
}

func (s *SyncSuite) TestPermissionCheckFailureStopsSync() {
	boom := errors.New("gateway timeout")
	s.authority.writeErr = boom
	outcome, err := s.store.Sync(s.ctx)
	s.Require().ErrorIs(err, boom)
	s.Equal(SyncFailed, outcome)
	s.Empty(s.api.saveCalls)
	s.Zero(s.api.createCalls)
}

func (s *SyncSuite) TestUploadFailureIsReported() {
	s.authority.canWrite = true
	s.api.saveErr = errors.New("disk full")
	outcome, err := s.store.Sync(s.ctx)
	s.Require().Error(err)
	s.Equal(SyncFailed, outcome)
}

func (s *SyncSuite) TestBranchExclusivity() {
	// one pass over every branch: upload happens exactly once across all of
	// them, and only on the write-access branch
	branches := []struct {
		name      string
		configure func()
	}{
		{"editing disabled", func() { s.store.SetEditing(false) }},
		{"needs fork", func() {
			s.store.SetEditing(true)
			s.authority.roles = map[auth.Role]bool{auth.RoleManagePersonal: true}
		}},
		{"needs login", func() {
			s.authority.roles = nil
			s.authority.mode = auth.ModeUnauthenticated
		}},
		{"write access", func() {
			s.authority.mode = auth.ModeCredential
			s.authority.canWrite = true
		}},
	}
	for _, branch := range branches {
		branch.configure()
		_, err := s.store.Sync(s.ctx)
		s.Require().NoError(err, branch.name)
	}
	s.Equal([]string{"p-42"}, s.api.saveCalls)
	s.Zero(s.api.createCalls)
}

func (s *SyncSuite) TestEntryManagement() {
	s.Run("add uses default name and appends", func() {
		entry := s.store.AddImage(ServerBuilder{URI: "slidehub://slides/s-3"}, "")
		s.Len(s.store.Project().Entries, 3)
		s.Contains(entry.ImageName, "Image ")
	})

	s.Run("lookup by image id", func() {
		entry := s.store.Project().Entries[0]
		s.Same(entry, s.store.EntryForImageID(entry.EntryID))
		s.Nil(s.store.EntryForImageID(-1))
	})

	s.Run("remove drops the entry and all its data", func() {
		entry := s.store.Project().Entries[0]
		before := len(s.store.Project().Entries)
		s.Require().NoError(s.store.RemoveImage(entry))
		s.Len(s.store.Project().Entries, before-1)
		s.Nil(s.store.EntryForImageID(entry.EntryID))
	})

	s.Run("removing a foreign entry is a reported error", func() {
		foreign := NewImageEntry(ServerBuilder{URI: "slidehub://slides/other"}, "foreign")
		s.Error(s.store.RemoveImage(foreign))
	})
}

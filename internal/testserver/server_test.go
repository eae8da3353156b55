package testserver_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"slidehub/internal/auth"
	"slidehub/internal/platform/logger"
	"slidehub/internal/platform/metrics"
	"slidehub/internal/project"
	"slidehub/internal/slides"
	"slidehub/internal/testserver"
	"slidehub/internal/transport"
)

// EndToEndSuite runs the real client stack against the in-memory server:
// gateway-signed transport, project load/sync/fork, tile reads, uploads.
type EndToEndSuite struct {
	suite.Suite
	srv    *testserver.Server
	gw     *auth.Gateway
	client *transport.Client
	ctx    context.Context
}

func (s *EndToEndSuite) SetupTest() {
	s.srv = testserver.New()
	s.ctx = context.Background()

	log := logger.Discard()
	s.gw = auth.NewGateway(log)
	s.client = transport.New(s.srv.URL(), s.gw, log, metrics.NewDiscard())
	s.gw.SetWriteChecker(s.client.Auth())

	s.Require().NoError(s.srv.AddUser("alice", "secret", "alice", "lab-7"))
}

func (s *EndToEndSuite) TearDownTest() {
	s.srv.Close()
}

func TestEndToEndSuite(t *testing.T) {
	suite.Run(t, new(EndToEndSuite))
}

func (s *EndToEndSuite) loginAlice(roles ...auth.Role) {
	s.gw.SetSession(auth.Session{
		Mode:     auth.ModeCredential,
		Username: "alice",
		Password: "secret",
		UserID:   "alice",
		OrgID:    "lab-7",
		Roles:    roles,
	})
}

func (s *EndToEndSuite) seedProject(id string) {
	p := &project.Project{
		ID:              id,
		Name:            "Teaching set",
		Version:         project.SchemaVersion,
		CreateTimestamp: time.Now().UnixMilli(),
		ModifyTimestamp: time.Now().UnixMilli(),
	}
	p.Entries = append(p.Entries,
		project.NewImageEntry(project.ServerBuilder{URI: "slidehub://slides/s-1"}, "Slice A"))
	payload, err := project.Serialize(p)
	s.Require().NoError(err)
	s.srv.PutProject(id, payload)
}

func (s *EndToEndSuite) TestLoginAndVerify() {
	s.loginAlice()

	ok, err := s.client.Auth().Login(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.client.Auth().Verify(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	sessions := s.srv.Sessions()
	s.Require().Len(sessions, 1)
	s.Equal("alice", sessions[0].UserID)
}

func (s *EndToEndSuite) TestBadCredentialsAreRejected() {
	s.gw.SetSession(auth.Session{Mode: auth.ModeCredential, Username: "alice", Password: "wrong"})
	ok, err := s.client.Auth().Login(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *EndToEndSuite) TestTokenModeRoundTrip() {
	token, err := s.srv.IssueToken("bob", "lab-9", []string{"manage-resources"})
	s.Require().NoError(err)

	s.gw.SetSession(auth.Session{Mode: auth.ModeToken, Token: token})
	sess := s.gw.Session()
	s.Equal("bob", sess.UserID)
	s.Equal("lab-9", sess.OrgID)
	s.True(s.gw.HasRole(auth.RoleManageResources))

	ok, err := s.client.Auth().Verify(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *EndToEndSuite) TestSyncUploadsWithWriteAccess() {
	s.loginAlice()
	s.seedProject("p-1")
	s.srv.GrantWrite("alice", "p-1")

	store := project.NewStore(s.client.Projects(), s.gw, logger.Discard(), metrics.NewDiscard())
	p, err := store.Load(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Len(p.Entries, 1)

	store.SetEditing(true)
	store.AddImage(project.ServerBuilder{URI: "slidehub://slides/s-2"}, "Slice B")

	outcome, err := store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(project.SyncUploaded, outcome)

	stored, ok := s.srv.ProjectDoc("p-1")
	s.Require().True(ok)
	uploaded, err := project.Parse(stored)
	s.Require().NoError(err)
	s.Len(uploaded.Entries, 2)
}

func (s *EndToEndSuite) TestSyncForkWithoutWriteAccess() {
	s.loginAlice(auth.RoleManagePersonal)
	s.seedProject("shared-1")

	store := project.NewStore(s.client.Projects(), s.gw, logger.Discard(), metrics.NewDiscard())
	_, err := store.Load(s.ctx, "shared-1")
	s.Require().NoError(err)
	store.SetEditing(true)

	outcome, err := store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(project.SyncNeedsFork, outcome)

	newID, err := store.Fork(s.ctx)
	s.Require().NoError(err)
	s.NotEqual("shared-1", newID)

	// the personal copy exists server-side and is writable from now on
	_, ok := s.srv.ProjectDoc(newID)
	s.True(ok)
	outcome, err = store.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(project.SyncUploaded, outcome)
}

func (s *EndToEndSuite) TestPointInTimeRetrieval() {
	s.seedProject("p-hist")
	cutoff := time.Now().UnixMilli()
	time.Sleep(50 * time.Millisecond)

	p := &project.Project{
		ID:              "p-hist",
		Version:         project.SchemaVersion,
		CreateTimestamp: cutoff,
		ModifyTimestamp: cutoff,
		Name:            "renamed later",
	}
	payload, err := project.Serialize(p)
	s.Require().NoError(err)
	s.srv.PutProject("p-hist", payload)

	raw, err := s.client.Projects().Get(s.ctx, fmt.Sprintf("p-hist:%d", cutoff))
	s.Require().NoError(err)
	old, err := project.Parse(raw)
	s.Require().NoError(err)
	s.Equal("Teaching set", old.Name)
}

func (s *EndToEndSuite) slideProperties() map[string]string {
	return map[string]string{
		"width":          "1024",
		"height":         "512",
		"tileWidth":      "128",
		"tileHeight":     "128",
		"levelCount":     "2",
		"level.0.width":  "1024",
		"level.0.height": "512",
		"level.1.width":  "512",
		"level.1.height": "256",
		"renderUrlTemplate": s.srv.URL() +
			"/render/{slideId}/{level}/{tileX}/{tileY}?w={tileWidth}&h={tileHeight}",
	}
}

func (s *EndToEndSuite) TestTileReadThroughRenderTemplate() {
	s.srv.AddSlide("s-1", s.slideProperties())

	server, err := slides.NewImageServer(s.ctx, "slidehub://slides/s-1",
		s.client.Slides(), s.client, logger.Discard(), metrics.NewDiscard())
	s.Require().NoError(err)

	levels := server.Levels()
	s.Require().Len(levels, 2)
	s.Equal(2.0, levels[1].Downsample)

	img, err := server.ReadTile(s.ctx, slides.TileRequest{
		Level: 1, TileX: 0, TileY: 0, TileWidth: 128, TileHeight: 128,
	})
	s.Require().NoError(err)
	s.Require().NotNil(img)
	s.Equal(128, img.Bounds().Dx())
}

func (s *EndToEndSuite) TestChunkedUploadAgainstServer() {
	uploader := slides.NewUploader(s.client.Slides(), logger.Discard(), metrics.NewDiscard())

	fileSize := int64(2_500_000)
	sent, err := uploader.Upload(s.ctx, "scan.svs",
		bytes.NewReader(make([]byte, fileSize)), fileSize, nil)
	s.Require().NoError(err)
	s.Equal(3, sent)

	chunks := s.srv.Uploads("scan.svs")
	s.Require().Len(chunks, 3)
	s.Equal(0, chunks[0].Chunk)
	s.Equal(2, chunks[2].Chunk)
	s.Equal(402848, chunks[2].Bytes)
	s.Equal(fileSize, chunks[0].FileSize)
}

func (s *EndToEndSuite) TestBackupListAndRestore() {
	s.srv.AddBackup("p-1.backup", 1700000000000)

	backups, err := s.client.Backups().List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(backups, 1)

	s.Require().NoError(s.client.Backups().Restore(s.ctx, backups[0].Filename, backups[0].Timestamp))
	restored := s.srv.Restored()
	s.Require().Len(restored, 1)
	s.Equal("p-1.backup", restored[0].Filename)
}

func (s *EndToEndSuite) TestResourceCollections() {
	s.Require().NoError(s.client.Workspaces().Create(s.ctx, map[string]string{"name": "Histology"}))
	docs, err := s.client.Workspaces().List(s.ctx)
	s.Require().NoError(err)
	s.Len(docs, 1)

	users, err := s.client.Users().List(s.ctx)
	s.Require().NoError(err)
	s.Empty(users)
}

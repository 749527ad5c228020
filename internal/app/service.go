package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"gridsync/api/internal/archive"
	"gridsync/api/internal/auth"
	"gridsync/api/internal/config"
	"gridsync/api/internal/export"
	"gridsync/api/internal/model"
	"gridsync/api/internal/rbac"
	"gridsync/api/internal/relay"
	"gridsync/api/internal/revision"
	"gridsync/api/internal/rowload"
	"gridsync/api/internal/search"
	"gridsync/api/internal/session"
	"gridsync/api/internal/store"
	"gridsync/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error
	AppendRevision(context.Context, revision.Revision) error
	ListRevisions(context.Context, string, int64) ([]revision.Revision, error)
	LatestSequence(context.Context, string) (int64, error)
	CreateGrid(context.Context, store.Grid) error
	GetGrid(context.Context, string) (store.Grid, error)
	ListGrids(context.Context) ([]store.Grid, error)
	AddBlock(context.Context, string, string) error
	GetBlock(context.Context, string) (store.Block, error)
	ListBlocks(context.Context, string) ([]store.Block, error)
	SaveField(context.Context, string, model.Field) error
	DeleteField(context.Context, string, string) error
	ListFields(context.Context, string) ([]model.Field, error)
}

type archiveService interface {
	EnsureRepo(string, archive.Snapshot, string) error
	CommitSnapshot(string, archive.Snapshot, string, string) (archive.CommitInfo, error)
	History(string, int) ([]archive.CommitInfo, error)
	GetSnapshot(string, string) (archive.Snapshot, archive.CommitInfo, error)
	Tag(string, string, string, string) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexRows([]search.RowRecord)
	DeleteRows(string, []string)
}

// Deps are the collaborators of a Service. Archive, Search and Sink are
// optional.
type Deps struct {
	Store    dataStore
	Sessions session.Store
	Relay    relay.Relay
	Archive  *archive.Service
	Search   *search.Service
	Sink     export.ObjectSink
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.Store
	relay    relay.Relay
	archive  archiveService
	search   searchIndex
	exports  *export.Service
	loader   *rowload.Loader
	objects  *objectCache
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		relay:    deps.Relay,
		loader:   rowload.NewLoader(cfg.LoaderParallelism),
		objects:  newObjectCache(),
	}
	if s.sessions == nil {
		s.sessions = session.NewMemoryStore()
	}
	if s.relay == nil {
		s.relay = relay.NewLocal()
	}
	if deps.Archive != nil {
		s.archive = deps.Archive
	}
	if deps.Search != nil {
		s.search = deps.Search
	} else {
		s.search = search.NewService(nil)
	}
	s.exports = export.NewService(s, deps.Sink)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingRelay reports whether the revision relay is reachable.
func (s *Service) PingRelay(ctx context.Context) error {
	return s.relay.Ping(ctx)
}

// Login issues a session for name. Role defaults to editor; admin is only
// granted to names listed in GRIDSYNC_ADMINS.
func (s *Service) Login(ctx context.Context, name, role string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	normalized := rbac.Normalize(strings.ToLower(strings.TrimSpace(role)))
	if strings.TrimSpace(role) == "" || (normalized == rbac.RoleAdmin && !slices.Contains(s.cfg.Admins, userName)) {
		normalized = rbac.RoleEditor
	}
	user := session.User{
		ID:        util.NewID("usr"),
		Name:      userName,
		Role:      string(normalized),
		CreatedAt: time.Now().UTC(),
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user session.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"journal/api/internal/archive"
	"journal/api/internal/auth"
	"journal/api/internal/authpw"
	"journal/api/internal/config"
	"journal/api/internal/export"
	"journal/api/internal/history"
	"journal/api/internal/journal"
	"journal/api/internal/reflection"
	"journal/api/internal/search"
	"journal/api/internal/session"
	"journal/api/internal/store"
	"journal/api/internal/util"
	"journal/api/internal/validation"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// AccountStore holds users and revoked access tokens.
type AccountStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh sessions, in Redis or PostgreSQL.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	// ConsumeRefreshSession revokes a live session and returns its holder.
	// Concurrent calls with the same hash succeed at most once.
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) error
}

type Journal interface {
	CreateEntryWithTags(ctx context.Context, userID string, input journal.NewEntry) (journal.Entry, error)
	UpdateEntryWithTags(ctx context.Context, userID, entryID string, patch journal.EntryPatch) (journal.Entry, error)
	GetEntries(ctx context.Context, userID string) ([]journal.Entry, error)
	GetEntryByID(ctx context.Context, userID, entryID string) (journal.Entry, error)
	DeleteEntry(ctx context.Context, userID, entryID string) error
	ListTags(ctx context.Context, userID string) ([]journal.Tag, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexEntry(rec search.EntryRecord)
	DeleteEntry(id string)
}

type History interface {
	Record(userID, entryID string, snap history.Snapshot, author, message string) (history.Revision, error)
	History(userID, entryID string, limit int) ([]history.Revision, error)
	Snapshot(userID, entryID, hash string) (history.Snapshot, history.Revision, []history.FieldChange, error)
	Remove(userID, entryID string) error
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Archiver interface {
	Store(ctx context.Context, userID, filename, contentType string, data []byte) (archive.Object, error)
}

type Reflector interface {
	Reflect(ctx context.Context, userID string) (string, error)
}

// Deps are the collaborators of Service. Search, History, Archive and
// Reflection are optional; a nil value turns the feature off.
type Deps struct {
	Accounts   AccountStore
	Sessions   SessionStore
	Journal    Journal
	Search     Searcher
	History    History
	Export     Exporter
	Archive    Archiver
	Reflection Reflector
	Logger     *slog.Logger
}

type Service struct {
	cfg        config.Config
	accounts   AccountStore
	sessions   SessionStore
	passwords  *authpw.Service
	journal    Journal
	search     Searcher
	history    History
	exporter   Exporter
	archiver   Archiver
	reflection Reflector
	validate   *validation.Validator
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		passwords:  authpw.NewService(deps.Accounts),
		journal:    deps.Journal,
		search:     deps.Search,
		history:    deps.History,
		exporter:   deps.Export,
		archiver:   deps.Archive,
		reflection: deps.Reflection,
		validate:   validation.New(),
		logger:     logger,
		now:        time.Now,
	}
}

type SignUpInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"displayName" validate:"notblank,max=80"`
}

type SignInInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CreateEntryInput struct {
	Title   string   `json:"title" validate:"notblank,max=200"`
	Content string   `json:"content" validate:"max=100000"`
	Tags    []string `json:"tags" validate:"max=50,dive,max=64"`
}

type UpdateEntryInput struct {
	Title   *string   `json:"title" validate:"omitnil,notblank,max=200"`
	Content *string   `json:"content" validate:"omitnil,max=100000"`
	Tags    *[]string `json:"tags" validate:"omitnil,max=50,dive,max=64"`
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (Session, error) {
	input.Email = strings.TrimSpace(input.Email)
	if err := s.validate.Validate(input); err != nil {
		return Session{}, err
	}
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user signed up", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, error) {
	if err := s.validate.Validate(input); err != nil {
		return Session{}, err
	}
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: input.Email, Password: input.Password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented one is consumed and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	user, err := s.accounts.GetUserByID(ctx, holder.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Iat:  now.Unix(),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.accounts.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.accounts.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout never fails: revocation errors are logged and the caller is
// signed out regardless. all revokes every refresh session of the user.
func (s *Service) Logout(ctx context.Context, current Session, refreshToken string, all bool) {
	if current.JTI != "" {
		if err := s.accounts.RevokeAccessToken(ctx, current.JTI, current.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", "user_id", current.UserID, "error", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session failed", "user_id", current.UserID, "error", err)
		}
	}
	if all && current.UserID != "" {
		if err := s.sessions.RevokeUserSessions(ctx, current.UserID); err != nil {
			s.logger.Warn("revoke user sessions failed", "user_id", current.UserID, "error", err)
		}
	}
}

func (s *Service) ListEntries(ctx context.Context, current Session) ([]journal.Entry, error) {
	return s.journal.GetEntries(ctx, current.UserID)
}

func (s *Service) GetEntry(ctx context.Context, current Session, entryID string) (journal.Entry, error) {
	return s.journal.GetEntryByID(ctx, current.UserID, entryID)
}

func (s *Service) CreateEntry(ctx context.Context, current Session, input CreateEntryInput) (journal.Entry, error) {
	if err := s.validate.Validate(input); err != nil {
		return journal.Entry{}, err
	}
	entry, err := s.journal.CreateEntryWithTags(ctx, current.UserID, journal.NewEntry{
		Title:   input.Title,
		Content: input.Content,
		Tags:    input.Tags,
	})
	if err != nil {
		return journal.Entry{}, err
	}
	s.afterSave(current, entry, "Create entry")
	return entry, nil
}

func (s *Service) UpdateEntry(ctx context.Context, current Session, entryID string, input UpdateEntryInput) (journal.Entry, error) {
	if err := s.validate.Validate(input); err != nil {
		return journal.Entry{}, err
	}
	entry, err := s.journal.UpdateEntryWithTags(ctx, current.UserID, entryID, journal.EntryPatch{
		Title:   input.Title,
		Content: input.Content,
		Tags:    input.Tags,
	})
	if err != nil {
		return journal.Entry{}, err
	}
	s.afterSave(current, entry, "Update entry")
	return entry, nil
}

func (s *Service) DeleteEntry(ctx context.Context, current Session, entryID string) error {
	if err := s.journal.DeleteEntry(ctx, current.UserID, entryID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteEntry(entryID)
	}
	if s.history != nil {
		if err := s.history.Remove(current.UserID, entryID); err != nil {
			s.logger.Warn("remove entry history failed", "entry_id", entryID, "error", err)
		}
	}
	return nil
}

// afterSave runs once the entry transaction has committed. Index and
// history failures are logged only.
func (s *Service) afterSave(current Session, entry journal.Entry, message string) {
	if s.search != nil {
		s.search.IndexEntry(search.RecordFromEntry(entry))
	}
	if s.history == nil {
		return
	}
	snap := history.Snapshot{Title: entry.Title, Content: entry.Content, Tags: store.TagNames(entry.Tags)}
	if _, err := s.history.Record(current.UserID, entry.ID, snap, authorName(current), message); err != nil {
		s.logger.Warn("record entry history failed", "entry_id", entry.ID, "error", err)
	}
}

func (s *Service) ListTags(ctx context.Context, current Session) ([]journal.Tag, error) {
	return s.journal.ListTags(ctx, current.UserID)
}

func (s *Service) EntryHistory(ctx context.Context, current Session, entryID string, limit int) ([]history.Revision, error) {
	if _, err := s.journal.GetEntryByID(ctx, current.UserID, entryID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	revisions, err := s.history.History(current.UserID, entryID, limit)
	if errors.Is(err, history.ErrNoHistory) {
		return []history.Revision{}, nil
	}
	return revisions, err
}

type RevisionView struct {
	Revision history.Revision      `json:"revision"`
	Snapshot history.Snapshot      `json:"snapshot"`
	Changes  []history.FieldChange `json:"changes"`
}

func (s *Service) EntryRevision(ctx context.Context, current Session, entryID, hash string) (RevisionView, error) {
	if _, err := s.journal.GetEntryByID(ctx, current.UserID, entryID); err != nil {
		return RevisionView{}, err
	}
	if s.history == nil {
		return RevisionView{}, journal.ErrNotFound
	}
	snap, rev, changes, err := s.history.Snapshot(current.UserID, entryID, hash)
	if errors.Is(err, history.ErrNoHistory) || errors.Is(err, history.ErrRevisionNotFound) {
		return RevisionView{}, journal.ErrNotFound
	}
	if err != nil {
		return RevisionView{}, err
	}
	return RevisionView{Revision: rev, Snapshot: snap, Changes: changes}, nil
}

func (s *Service) Search(ctx context.Context, current Session, q search.Query) search.Response {
	q.UserID = current.UserID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "none"}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Export(ctx context.Context, current Session, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{UserID: current.UserID, UserName: current.UserName, Format: parsed})
}

// Archive exports the journal and stores the file in object storage.
func (s *Service) Archive(ctx context.Context, current Session, format string) (archive.Object, error) {
	if s.archiver == nil {
		return archive.Object{}, errArchiveUnavailable
	}
	result, err := s.Export(ctx, current, format)
	if err != nil {
		return archive.Object{}, err
	}
	obj, err := s.archiver.Store(ctx, current.UserID, result.Filename, result.MimeType, result.Data)
	if err != nil {
		return archive.Object{}, err
	}
	s.logger.Info("journal archived", "user_id", current.UserID, "key", obj.Key, "bytes", len(result.Data))
	return obj, nil
}

func (s *Service) Reflect(ctx context.Context, current Session) (string, error) {
	if s.reflection == nil {
		return "", reflection.ErrNotConfigured
	}
	return s.reflection.Reflect(ctx, current.UserID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.accounts.Ping(ctx)
}

func authorName(current Session) string {
	if name := strings.TrimSpace(current.UserName); name != "" {
		return name
	}
	return "User"
}

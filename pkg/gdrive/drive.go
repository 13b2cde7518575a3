// Package gdrive delivers accepted captures to a Google Drive folder.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teslashibe/qrsnap/internal/httpc"
	"github.com/teslashibe/qrsnap/pkg/snapshot"
)

// Errors returned by the sink.
var (
	ErrNotConfigured    = errors.New("gdrive: client id and secret are required")
	ErrNotAuthenticated = errors.New("gdrive: not connected to Google Drive")
	ErrBadState         = errors.New("gdrive: oauth state mismatch")
)

// UploadError wraps a failed upload.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("gdrive: upload %s: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Config configures the Drive sink.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g. http://localhost:8080/api/drive/callback
	TokenPath    string
	FolderID     string // empty uploads to My Drive root
}

// Sink uploads captures to Drive once the user has authorized access.
type Sink struct {
	oauth     *oauth2.Config
	tokenPath string
	folderID  string
	logger    *slog.Logger

	mu    sync.RWMutex
	token *oauth2.Token
	svc   *drive.Service
	state string

	// extra service options; tests point the API at a local server
	svcOpts []option.ClientOption
}

// New creates a sink and loads a saved token if there is one.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/drive/callback"
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".qrsnap", "drive_token.json")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{drive.DriveFileScope},
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		folderID:  cfg.FolderID,
		logger:    logger.With("component", "gdrive"),
	}

	if err := s.loadToken(); err == nil {
		if err := s.initService(context.Background()); err != nil {
			s.logger.Warn("saved token unusable", "error", err)
			s.token = nil
		}
	}
	return s, nil
}

// NewWithService wraps an existing Drive service, skipping OAuth.
func NewWithService(svc *drive.Service, folderID string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{svc: svc, folderID: folderID, logger: logger.With("component", "gdrive")}
}

// Authenticated reports whether uploads can run.
func (s *Sink) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc != nil
}

// AuthURL returns the consent URL. Each call issues a new state value.
func (s *Sink) AuthURL() string {
	s.mu.Lock()
	s.state = uuid.NewString()
	state := s.state
	s.mu.Unlock()
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and saves the token.
func (s *Sink) HandleCallback(ctx context.Context, state, code string) error {
	s.mu.RLock()
	want := s.state
	s.mu.RUnlock()
	if want == "" || state != want {
		return ErrBadState
	}

	token, err := s.oauth.Exchange(httpc.OAuthContext(ctx, nil), code)
	if err != nil {
		return fmt.Errorf("gdrive: exchange code: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.state = ""
	s.mu.Unlock()

	if err := s.saveToken(); err != nil {
		s.logger.Warn("failed to save token", "error", err)
	}
	if err := s.initService(ctx); err != nil {
		return err
	}
	s.logger.Info("drive connected")
	return nil
}

// Disconnect forgets the token and removes it from disk.
func (s *Sink) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	s.svc = nil
	if s.tokenPath == "" {
		return nil
	}
	if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("gdrive: remove token: %w", err)
	}
	return nil
}

// Deliver uploads one capture.
func (s *Sink) Deliver(ctx context.Context, c snapshot.Capture) error {
	id, err := s.upload(ctx, c.Filename, snapshot.ContentType, c.Data)
	if err != nil {
		return err
	}
	s.logger.Info("capture uploaded", "filename", c.Filename, "file_id", id)
	return nil
}

// UploadArchive uploads the zip of captures and returns the Drive file id.
func (s *Sink) UploadArchive(ctx context.Context, captures []snapshot.Capture) (string, error) {
	var buf bytes.Buffer
	if err := snapshot.WriteArchive(&buf, captures); err != nil {
		return "", err
	}
	return s.upload(ctx, snapshot.ArchiveName, "application/zip", buf.Bytes())
}

func (s *Sink) upload(ctx context.Context, name, mime string, data []byte) (string, error) {
	s.mu.RLock()
	svc := s.svc
	s.mu.RUnlock()
	if svc == nil {
		return "", ErrNotAuthenticated
	}

	file := &drive.File{Name: name, MimeType: mime}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}
	created, err := svc.Files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(mime)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", &UploadError{Filename: name, Err: err}
	}
	return created.Id, nil
}

func (s *Sink) initService(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return ErrNotAuthenticated
	}

	oauthCtx := httpc.OAuthContext(context.Background(), httpc.Uploads)
	src := &persistingSource{
		base: s.oauth.TokenSource(oauthCtx, s.token),
		sink: s,
		last: s.token.AccessToken,
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(oauthCtx, src))}, s.svcOpts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("gdrive: create service: %w", err)
	}
	s.svc = svc
	return nil
}

// persistingSource writes the token back to disk whenever a refresh
// replaces the access token.
type persistingSource struct {
	base oauth2.TokenSource
	sink *Sink

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	changed := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()

	if changed {
		p.sink.mu.Lock()
		p.sink.token = tok
		p.sink.mu.Unlock()
		if err := p.sink.saveToken(); err != nil {
			p.sink.logger.Warn("save refreshed token", "error", err)
		} else {
			p.sink.logger.Debug("token refreshed")
		}
	}
	return tok, nil
}

func (s *Sink) loadToken() error {
	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		return err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = &token
	s.mu.Unlock()
	return nil
}

func (s *Sink) saveToken() error {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == nil {
		return ErrNotAuthenticated
	}
	if s.tokenPath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.tokenPath, data, 0o600)
}

package web

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/qrsnap/pkg/hub"
	"github.com/teslashibe/qrsnap/pkg/session"
	"github.com/teslashibe/qrsnap/pkg/snapshot"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Session *session.Status `json:"session"`
	Clients int             `json:"clients"`
	Drive   bool            `json:"drive"`
}

// handleLoad starts a session from an uploaded file or a local path. An
// uploaded file lives as long as its session.
func (s *Server) handleLoad(c *fiber.Ctx) error {
	var path, name, upload string

	if fh, err := c.FormFile("video"); err == nil {
		name = filepath.Base(fh.Filename)
		upload = filepath.Join(s.cfg.UploadDir, uuid.NewString()+filepath.Ext(name))
		if err := c.SaveFile(fh, upload); err != nil {
			return err
		}
		path = upload
	} else if p := strings.TrimSpace(c.FormValue("path")); p != "" {
		path, name = p, filepath.Base(p)
	} else {
		return fiber.NewError(fiber.StatusBadRequest, "video upload or path required")
	}

	removeUpload := func() {
		if upload == "" {
			return
		}
		if err := os.Remove(upload); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove upload", "path", upload, "error", err)
		}
	}

	src, err := s.cfg.NewSource(path)
	if err != nil {
		removeUpload()
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	sess, err := s.cfg.Sessions.Load(name, src)
	if err != nil {
		src.Close()
		removeUpload()
		return err
	}
	sess.OnStop(removeUpload)

	s.logger.Info("video loaded", "name", name, "session", sess.ID)
	return c.Status(fiber.StatusCreated).JSON(sess.Status())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.cfg.Sessions.Stop(); err != nil {
		return sessionError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePause(c *fiber.Ctx) error {
	sess, err := s.cfg.Sessions.Current()
	if err != nil {
		return sessionError(err)
	}
	if err := sess.Pause(); err != nil {
		return sessionError(err)
	}
	return c.JSON(sess.Status())
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	sess, err := s.cfg.Sessions.Current()
	if err != nil {
		return sessionError(err)
	}
	if err := sess.Resume(); err != nil {
		return sessionError(err)
	}
	return c.JSON(sess.Status())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		Clients: s.cfg.Events.ClientCount(),
		Drive:   s.cfg.Drive != nil && s.cfg.Drive.Authenticated(),
	}
	if sess, err := s.cfg.Sessions.Current(); err == nil {
		st := sess.Status()
		resp.Session = &st
	}
	return c.JSON(resp)
}

// handleSnapshots lists accepted captures; empty without a session.
func (s *Server) handleSnapshots(c *fiber.Ctx) error {
	return c.JSON(s.captures())
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	name := c.Params("name")
	if _, err := snapshot.ParseFilename(name); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	sess, err := s.cfg.Sessions.Current()
	if err != nil {
		return sessionError(err)
	}
	item, err := sess.Snapshot(name)
	if err != nil {
		return sessionError(err)
	}
	c.Set(fiber.HeaderContentType, snapshot.ContentType)
	return c.Send(item.Data)
}

// handleArchive always returns a valid zip, holding just the folder entry
// when nothing was captured.
func (s *Server) handleArchive(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := snapshot.WriteArchive(&buf, s.captures()); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Attachment(snapshot.ArchiveName)
	return c.Send(buf.Bytes())
}

func (s *Server) handleDriveAuth(c *fiber.Ctx) error {
	if s.cfg.Drive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "google drive not configured")
	}
	return c.Redirect(s.cfg.Drive.AuthURL(), fiber.StatusTemporaryRedirect)
}

func (s *Server) handleDriveCallback(c *fiber.Ctx) error {
	if s.cfg.Drive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "google drive not configured")
	}
	if e := c.Query("error"); e != "" {
		return fiber.NewError(fiber.StatusBadRequest, "authorization denied: "+e)
	}
	if err := s.cfg.Drive.HandleCallback(c.UserContext(), c.Query("state"), c.Query("code")); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"connected": true})
}

// handleDriveDisconnect forgets the saved Drive token.
func (s *Server) handleDriveDisconnect(c *fiber.Ctx) error {
	if s.cfg.Drive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "google drive not configured")
	}
	if err := s.cfg.Drive.Disconnect(); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"connected": false})
}

func (s *Server) handleDriveArchive(c *fiber.Ctx) error {
	if s.cfg.Drive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "google drive not configured")
	}
	if !s.cfg.Drive.Authenticated() {
		return fiber.NewError(fiber.StatusUnauthorized, "google drive not connected")
	}
	id, err := s.cfg.Drive.UploadArchive(c.UserContext(), s.captures())
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"id": id, "name": snapshot.ArchiveName})
}

// handleEventsWS streams session events to one client, starting with the
// current session state when there is one.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	var greeting []any
	if sess, err := s.cfg.Sessions.Current(); err == nil {
		st := sess.Status()
		greeting = append(greeting, session.Event{
			Type:      session.EventState,
			SessionID: st.ID,
			State:     st.State,
			Time:      time.Now(),
		})
	}
	client := hub.NewClient(s.cfg.Events, conn, greeting...)
	if client == nil {
		conn.Close()
		return
	}
	client.Run()
}

func (s *Server) captures() []snapshot.Capture {
	sess, err := s.cfg.Sessions.Current()
	if err != nil {
		return []snapshot.Capture{}
	}
	return sess.Snapshots()
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, snapshot.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotPausable):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return err
}
